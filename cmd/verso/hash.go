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

	"github.com/spf13/cobra"

	"verso.land/verso-go/hashutil"
)

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the base64 and hex MD5 of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(args[0])
		},
	}
}

func runHash(path string) error {
	digest, err := hashutil.ComputeFileB64MD5(path)
	if err != nil {
		return err
	}
	hexdigest, err := hashutil.B64ToHex(digest)
	if err != nil {
		return err
	}
	fmt.Printf("b64: %s\nhex: %s\n", digest, hexdigest)
	return nil
}
