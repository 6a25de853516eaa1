/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package aputil

import (
	"os"
	"strings"
	"sync"

	"github.com/satori/uuid"
)

var (
	genID   = uuid.Nil
	genLock sync.Mutex
)

// FileExists checks whether the file/directory at the given path exists.
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return false
	}
	return true
}

// ExpandDirPath translates a path into one relative to FLEETAGENT_ROOT, if
// the incoming path starts with a single '/'. Paths starting with '//' are
// treated as already-absolute; relative paths are returned unchanged.
func ExpandDirPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return path
	}
	if strings.HasPrefix(path, "//") {
		return strings.TrimPrefix(path, "/")
	}

	root := os.Getenv("FLEETAGENT_ROOT")
	if root == "" {
		root = "./"
	}
	return root + path
}

// GenerateDeviceID returns a random UUID suitable for use as a device
// identity when neither the persistent store nor the compile-time default
// supplies one. It is cached for the life of the process.
func GenerateDeviceID() string {
	genLock.Lock()
	defer genLock.Unlock()

	if genID == uuid.Nil {
		genID = uuid.NewV4()
	}
	return genID.String()
}
