package redis

import (
	rd "github.com/redis/go-redis/v9"
)

// Every state change runs as a script so that the state check and the index
// updates happen in one step on the server. Scripts return -1 when the job
// hash does not exist and 0 when the current state forbids the transition.

// KEYS: job, scheduled, running. ARGV: nowNs, nowMs, id.
var claimScript = rd.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state ~= 'SCHEDULED' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'RUNNING', 'claimedAt', ARGV[1], 'updatedAt', ARGV[1])
redis.call('ZREM', KEYS[2], redis.call('HGET', KEYS[1], 'member'))
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[3])
return 1
`)

// KEYS: job, running, terminal, failed. ARGV: nowNs, nowMs, state, reason, id.
var finishScript = rd.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state ~= 'RUNNING' then return 0 end
redis.call('HINCRBY', KEYS[1], 'attempt', 1)
redis.call('HSET', KEYS[1], 'state', ARGV[3], 'finishedAt', ARGV[1], 'updatedAt', ARGV[1])
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'lastError', ARGV[4]) end
redis.call('ZREM', KEYS[2], ARGV[5])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[5])
if ARGV[3] == 'FAILED' then redis.call('ZADD', KEYS[4], ARGV[2], ARGV[5]) end
return 1
`)

// KEYS: job, running, scheduled, terminal, failed.
// ARGV: nowNs, fireAtNs, fireAtMs, reason, id.
var rescheduleScript = rd.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'RUNNING' then
  redis.call('HINCRBY', KEYS[1], 'attempt', 1)
  redis.call('ZREM', KEYS[2], ARGV[5])
elseif state == 'FAILED' then
  redis.call('HSET', KEYS[1], 'attempt', '0')
  redis.call('ZREM', KEYS[4], ARGV[5])
  redis.call('ZREM', KEYS[5], ARGV[5])
else
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'SCHEDULED', 'fireAt', ARGV[2], 'claimedAt', '0', 'finishedAt', '0', 'updatedAt', ARGV[1])
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'lastError', ARGV[4]) end
redis.call('ZADD', KEYS[3], ARGV[3], redis.call('HGET', KEYS[1], 'member'))
return 1
`)

// KEYS: job, running, scheduled. ARGV: nowNs, nowMs, claimedBeforeMs, id, reason.
var requeueScript = rd.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state ~= 'RUNNING' then return 0 end
local claimed = redis.call('ZSCORE', KEYS[2], ARGV[4])
if not claimed or tonumber(claimed) > tonumber(ARGV[3]) then return 0 end
redis.call('HINCRBY', KEYS[1], 'attempt', 1)
redis.call('HSET', KEYS[1], 'state', 'SCHEDULED', 'fireAt', ARGV[1], 'claimedAt', '0', 'updatedAt', ARGV[1], 'lastError', ARGV[5])
redis.call('ZREM', KEYS[2], ARGV[4])
redis.call('ZADD', KEYS[3], ARGV[2], redis.call('HGET', KEYS[1], 'member'))
return 1
`)

// KEYS: flow jobs, scheduled, running, terminal. ARGV: nowNs, nowMs, job key prefix.
var cancelScript = rd.NewScript(`
local count = 0
local ids = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(ids) do
  local key = ARGV[3] .. id
  local state = redis.call('HGET', key, 'state')
  if state == 'SCHEDULED' or state == 'RUNNING' then
    redis.call('ZREM', KEYS[2], redis.call('HGET', key, 'member'))
    redis.call('ZREM', KEYS[3], id)
    redis.call('HSET', key, 'state', 'CANCELLED', 'finishedAt', ARGV[1], 'updatedAt', ARGV[1])
    redis.call('ZADD', KEYS[4], ARGV[2], id)
    count = count + 1
  end
end
return count
`)

// KEYS: job, terminal, failed, flow jobs. ARGV: id.
var purgeScript = rd.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'COMPLETED' or state == 'FAILED' or state == 'CANCELLED' then
  redis.call('DEL', KEYS[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('SREM', KEYS[4], ARGV[1])
  return 1
end
return 0
`)
