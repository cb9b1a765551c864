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

package providers

import (
	"context"

	goredis "github.com/go-redis/redis"
	"github.com/provideplatform/xchain/proof/providers/memory"
	"github.com/provideplatform/xchain/proof/providers/redis"
)

// SequenceAllocatorMemory in-process sequence allocator provider
const SequenceAllocatorMemory = "memory"

// SequenceAllocatorRedis redis-backed sequence allocator provider
const SequenceAllocatorRedis = "redis"

// SequenceAllocator assigns strictly increasing sequence numbers per (sender, target);
// a number is never handed out twice
type SequenceAllocator interface {
	NextSequence(ctx context.Context, sender, target string) (uint64, error)
}

// InitMemorySequenceAllocator initializes an in-process allocator
func InitMemorySequenceAllocator() *memory.Allocator {
	return memory.InitAllocator()
}

// InitRedisSequenceAllocator initializes an allocator on the given redis client
func InitRedisSequenceAllocator(client *goredis.Client) *redis.Allocator {
	return redis.InitAllocator(client)
}
