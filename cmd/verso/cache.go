/*
Copyright The Verso Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"verso.land/verso-go/cache"
)

type cacheCleanupOptions struct {
	dir    string
	target int64
	debug  bool
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache [command]",
		Short: "Manage the local object cache",
	}
	cmd.AddCommand(cacheCleanupCmd())
	return cmd
}

func cacheCleanupCmd() *cobra.Command {
	var opts cacheCleanupOptions
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Evict least-recently-used objects until the cache fits the target size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheCleanup(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.dir, "dir", "", "", "cache directory (defaults to $VERSO_CACHE_DIR or the user cache dir)")
	cmd.Flags().Int64VarP(&opts.target, "target", "", 0, "target size in bytes")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "debug mode")
	return cmd
}

func runCacheCleanup(opts cacheCleanupOptions) error {
	if opts.debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	store, err := openStore(opts.dir)
	if err != nil {
		return err
	}
	reclaimed, err := store.Cleanup(opts.target)
	if err != nil {
		return err
	}
	fmt.Printf("reclaimed %d bytes from %s\n", reclaimed, store.Root())
	return nil
}

func openStore(dir string) (*cache.Store, error) {
	if dir != "" {
		return cache.New(dir)
	}
	return cache.Default()
}
