package trie

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"

	"github.com/D2dProtocol/d2d-program/storage"
)

// Commitment is the Merkle Patricia root over a key range together with the
// number of records it covers.
type Commitment struct {
	Root    common.Hash
	Records int
}

type leaf struct {
	key   []byte
	value []byte
}

// Root builds the commitment over every record stored under prefix. Keys are
// keccak256 hashed before insertion, so the root only depends on the record
// set and never on iteration order. An empty range yields the empty trie root.
func Root(db storage.Database, prefix []byte) (Commitment, error) {
	var leaves []leaf
	err := db.Iterate(prefix, func(key, value []byte) bool {
		if len(value) == 0 {
			return true
		}
		leaves = append(leaves, leaf{key: crypto.Keccak256(key), value: value})
		return true
	})
	if err != nil {
		return Commitment{}, err
	}
	if len(leaves) == 0 {
		return Commitment{Root: gethtypes.EmptyRootHash}, nil
	}
	// The stack trie requires ascending insertion order.
	sort.Slice(leaves, func(i, j int) bool { return bytes.Compare(leaves[i].key, leaves[j].key) < 0 })

	st := gethtrie.NewStackTrie(nil)
	for _, l := range leaves {
		if err := st.Update(l.key, l.value); err != nil {
			return Commitment{}, err
		}
	}
	return Commitment{Root: st.Hash(), Records: len(leaves)}, nil
}
