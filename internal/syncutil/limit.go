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

package syncutil

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// GoEach invokes fn once per item with at most limit invocations running
// concurrently. fn receives the item's index so callers can collect
// results in order without locking. The first error cancels the context
// seen by the remaining invocations and is returned once every started
// invocation has finished.
func GoEach[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, index int, item T) error) error {
	if limit < 1 {
		limit = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, item := range items {
		eg.Go(func(i int, t T) func() error {
			return func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				return fn(egCtx, i, t)
			}
		}(i, item))
	}
	return eg.Wait()
}
