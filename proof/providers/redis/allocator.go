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

package redis

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis"
	"github.com/provideplatform/xchain/common"
)

const sequenceKeyPrefix = "xchain.sequence"

// Allocator hands out sequence numbers using atomic redis INCR; sequences survive
// process restarts and are shared by every coordinator using the same redis
type Allocator struct {
	client *goredis.Client
}

// InitAllocator initializes an allocator on the given client
func InitAllocator(client *goredis.Client) *Allocator {
	return &Allocator{
		client: client,
	}
}

func sequenceKey(sender, target string) string {
	return fmt.Sprintf("%s.%s.%s", sequenceKeyPrefix, sender, target)
}

// NextSequence returns the next sequence number for the sender and target
func (a *Allocator) NextSequence(ctx context.Context, sender, target string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := sequenceKey(sender, target)
	seq, err := a.client.WithContext(ctx).Incr(key).Result()
	if err != nil {
		common.Log.Warningf("failed to allocate sequence for %s; %s", key, err.Error())
		return 0, fmt.Errorf("failed to allocate sequence for %s; %s", key, err.Error())
	}
	if seq <= 0 {
		return 0, fmt.Errorf("failed to allocate sequence for %s; invalid sequence %d", key, seq)
	}

	common.Log.Tracef("allocated sequence %d for %s", seq, key)
	return uint64(seq), nil
}
