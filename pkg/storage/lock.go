package storage

import (
	"crypto/sha1"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// HashLock holds a fixed length array of mutexes.  This approach allows concurrent access to
// records without needing a mutex for every record key.
type HashLock [4096]sync.RWMutex

// Get returns a RWMutex based on the first 12 bits of the key hash.  Hash must be a hexadecimal
// string of three or more characters.
func (h *HashLock) Get(hash string) *sync.RWMutex {
	if len(hash) < 3 {
		return nil
	}
	i, err := strconv.ParseInt(hash[0:3], 16, 0)
	if err != nil {
		return nil
	}
	return &h[i]
}

// For returns the RWMutex guarding the family/key pair.
func (h *HashLock) For(family Family, key string) *sync.RWMutex {
	return h.Get(HashKey(family, key))
}

// HashKey hashes a family/key pair into a hexadecimal string, used for lock selection and as the
// file name of file backed records.
func HashKey(family Family, key string) string {
	s := sha1.New()
	if _, err := io.WriteString(s, string(family)+"\x00"+key); err != nil {
		// This shouldn't ever happen
		return ""
	}
	return fmt.Sprintf("%x", s.Sum(nil))
}
