/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package memory

import (
	"context"
	"sync"

	"github.com/provideplatform/xchain/common"
)

// Allocator hands out sequence numbers from process memory; sequences do not survive
// a restart
type Allocator struct {
	mutex sync.Mutex
	next  map[string]uint64
}

// InitAllocator initializes an allocator with every sequence starting at 1
func InitAllocator() *Allocator {
	return &Allocator{
		next: map[string]uint64{},
	}
}

// NextSequence returns the next sequence number for the sender and target
func (a *Allocator) NextSequence(ctx context.Context, sender, target string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	key := sender + "/" + target
	a.next[key]++
	seq := a.next[key]
	common.Log.Tracef("allocated sequence %d for %s", seq, key)
	return seq, nil
}
