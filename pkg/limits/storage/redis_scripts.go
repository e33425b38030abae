package storage

import "github.com/redis/go-redis/v9"

// hitScript implements Store.Hit. Scores and the window are unix
// microseconds; the TTL is in milliseconds.
//
// KEYS[1] window key
// ARGV[1] now, ARGV[2] window, ARGV[3] limit, ARGV[4] member, ARGV[5] ttl
//
// Returns {allowed, count, oldest} where oldest is -1 for an empty window.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  redis.call('PEXPIRE', key, ttl)
  count = count + 1
  allowed = 1
end

local oldest = -1
local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if head ~= nil and #head >= 2 then
  oldest = tonumber(head[2])
end

return {allowed, count, oldest}
`)

// reapScript implements Store.Reap.
//
// KEYS[1] window key
// ARGV[1] cutoff in unix microseconds
//
// Returns 1 when the key was deleted.
var reapScript = redis.NewScript(`
local key = KEYS[1]
local cutoff = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
  return 0
end

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
if redis.call('ZCARD', key) == 0 then
  redis.call('DEL', key)
  return 1
end
return 0
`)
