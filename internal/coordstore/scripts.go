package coordstore

import "github.com/redis/go-redis/v9"

// The four scripts named in the external interface contract: subOn,
// subOff, cleanNode, getState. Real deployments source these from the
// text files of the same name; they're inlined here as Go string
// constants so the client can register them with NewScript at
// construction without a filesystem dependency.
//
// All keys passed to EVALSHA are hash-tagged with the same
// `{index/collection}` tag (see cluster.Tag) so a Redis Cluster
// deployment routes every key for one collection to the same shard,
// making the script atomic with respect to that collection.

// subOnScript increments the tag's version, records the node/room
// membership and connection, optionally stores the filter, and
// returns [version, totalCount].
const subOnScript = `
local versionKey = KEYS[1]
local roomsKey = KEYS[2]
local membersKeyPrefix = KEYS[3]
local connsKeyPrefix = KEYS[4]
local filterKeyPrefix = KEYS[5]

local nodeUuid = ARGV[1]
local roomId = ARGV[2]
local connectionId = ARGV[3]
local filter = ARGV[4]

local version = redis.call('INCR', versionKey)

local membersKey = membersKeyPrefix .. roomId
redis.call('SADD', membersKey, nodeUuid)

local connsKey = connsKeyPrefix .. roomId .. ':' .. nodeUuid
redis.call('SADD', connsKey, connectionId)

local total = redis.call('HINCRBY', roomsKey, roomId, 1)

if filter ~= 'none' then
  redis.call('SET', filterKeyPrefix .. roomId, filter)
end

return {version, total}
`

// subOffScript decrements the room's total; if this node's connection
// set empties, the node/room membership is dropped; if the room's
// global count reaches zero, the room and its filter are deleted.
// Returns [version, totalCount].
const subOffScript = `
local versionKey = KEYS[1]
local roomsKey = KEYS[2]
local membersKeyPrefix = KEYS[3]
local connsKeyPrefix = KEYS[4]
local filterKeyPrefix = KEYS[5]

local nodeUuid = ARGV[1]
local roomId = ARGV[2]
local connectionId = ARGV[3]

local version = redis.call('INCR', versionKey)

local connsKey = connsKeyPrefix .. roomId .. ':' .. nodeUuid
redis.call('SREM', connsKey, connectionId)

local membersKey = membersKeyPrefix .. roomId
if redis.call('SCARD', connsKey) == 0 then
  redis.call('DEL', connsKey)
  redis.call('SREM', membersKey, nodeUuid)
end

local total = redis.call('HINCRBY', roomsKey, roomId, -1)
if total <= 0 then
  redis.call('HDEL', roomsKey, roomId)
  redis.call('DEL', filterKeyPrefix .. roomId)
  redis.call('DEL', membersKey)
  total = 0
end

return {version, total}
`

// cleanNodeScript removes every membership owned by nodeUuid under
// this tag and decrements the corresponding room counts. It is
// idempotent: running it twice for a node with no remaining
// memberships is a no-op beyond the version bump.
const cleanNodeScript = `
local versionKey = KEYS[1]
local roomsKey = KEYS[2]
local membersKeyPrefix = KEYS[3]
local connsKeyPrefix = KEYS[4]
local filterKeyPrefix = KEYS[5]

local nodeUuid = ARGV[1]

redis.call('INCR', versionKey)

local roomIds = redis.call('HKEYS', roomsKey)
for _, roomId in ipairs(roomIds) do
  local membersKey = membersKeyPrefix .. roomId
  if redis.call('SISMEMBER', membersKey, nodeUuid) == 1 then
    local connsKey = connsKeyPrefix .. roomId .. ':' .. nodeUuid
    local n = redis.call('SCARD', connsKey)
    if n > 0 then
      redis.call('DEL', connsKey)
      local total = redis.call('HINCRBY', roomsKey, roomId, -n)
      if total <= 0 then
        redis.call('HDEL', roomsKey, roomId)
        redis.call('DEL', filterKeyPrefix .. roomId)
      end
    end
    redis.call('SREM', membersKey, nodeUuid)
  end
end

return redis.status_reply('OK')
`

// getStateScript returns the tag's current version and every
// {roomId, count, filter?} still alive under it.
const getStateScript = `
local versionKey = KEYS[1]
local roomsKey = KEYS[2]
local filterKeyPrefix = KEYS[5]

local version = tonumber(redis.call('GET', versionKey) or '0')
local raw = redis.call('HGETALL', roomsKey)

local rooms = {}
local i = 1
while i < #raw do
  local roomId = raw[i]
  local count = raw[i + 1]
  local filter = redis.call('GET', filterKeyPrefix .. roomId)
  table.insert(rooms, {roomId, count, filter or false})
  i = i + 2
end

return {version, rooms}
`

// scriptSet is the parsed, ready-to-run form of the four scripts.
type scriptSet struct {
	subOn     *redis.Script
	subOff    *redis.Script
	cleanNode *redis.Script
	getState  *redis.Script
}

func newScriptSet() *scriptSet {
	return &scriptSet{
		subOn:     redis.NewScript(subOnScript),
		subOff:    redis.NewScript(subOffScript),
		cleanNode: redis.NewScript(cleanNodeScript),
		getState:  redis.NewScript(getStateScript),
	}
}

// tagKeys builds the five hash-tagged keys a script needs for one
// (index, collection) tag. All five share the `{index/collection}`
// brace tag so Redis Cluster co-locates them on one shard.
func tagKeys(tag string) []string {
	return []string{
		tag + ":version",
		tag + ":rooms",
		tag + ":members:",
		tag + ":conns:",
		tag + ":filter:",
	}
}
