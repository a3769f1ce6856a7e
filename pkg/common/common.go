package common

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// SetNodeID selects the snowflake node; it must be called before the first
// UUIDint64 call to take effect.
func SetNodeID(id int64) {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(id)
		if err != nil {
			panic(err)
		}
		node = n
	})
}

// UUIDint64 returns a time ordered unique int64 id
func UUIDint64() int64 {
	SetNodeID(1)
	return node.Generate().Int64()
}

// UUID returns UUIDint64 in its base32 string form
func UUID() string {
	SetNodeID(1)
	return node.Generate().Base32()
}
