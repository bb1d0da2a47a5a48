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
	"os"

	"github.com/spf13/cobra"

	"verso.land/verso-go/manifest"
)

func manifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest [command]",
		Short: "Inspect artifact manifests",
	}
	cmd.AddCommand(manifestInspectCmd())
	return cmd
}

func manifestInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the digest and contents of a serialized manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifestInspect(args[0])
		},
	}
}

func runManifestInspect(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := manifest.FromWireFormat(data)
	if err != nil {
		return err
	}
	fmt.Printf("digest: %s\n", m.Digest())
	fmt.Printf("entries: %d\n", m.Len())
	for _, entry := range m.Entries() {
		line := entry.Path + " " + entry.Digest
		if entry.Size != nil {
			line += fmt.Sprintf(" %d", *entry.Size)
		}
		if entry.Ref != "" {
			line += " " + entry.Ref
		}
		fmt.Println(line)
	}
	return nil
}
