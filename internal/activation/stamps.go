/*
   Copyright The sysd Authors.

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

package activation

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var stampBucket = []byte("timer-stamps")

// Stamps persists the last trigger time of Persistent= timers so missed
// calendar triggers fire on the next boot.
type Stamps struct {
	db *bolt.DB
}

// OpenStamps opens (creating if needed) the stamp database.
func OpenStamps(path string) (*Stamps, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open timer stamps: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stampBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Stamps{db: db}, nil
}

// LastRun returns the stored trigger time for a timer, or the zero time.
func (s *Stamps) LastRun(name string) time.Time {
	var t time.Time
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stampBucket).Get([]byte(name))
		if len(v) == 0 {
			return nil
		}
		nsec, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return nil
		}
		t = time.Unix(0, nsec)
		return nil
	})
	return t
}

// SetLastRun records a trigger time.
func (s *Stamps) SetLastRun(name string, t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		v := strconv.FormatInt(t.UnixNano(), 10)
		return tx.Bucket(stampBucket).Put([]byte(name), []byte(v))
	})
}

// Close releases the database.
func (s *Stamps) Close() error {
	return s.db.Close()
}
