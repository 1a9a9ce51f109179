// Copyright 2022 oclbin. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package devbin

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
)

// Filesystem abstracts side-file access so the pipelines can run against an
// in-memory tree in tests.
type Filesystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Exists(path string) bool
}

// OsFilesystem is the host filesystem.
type OsFilesystem struct{}

// ReadFile implements Filesystem.
func (OsFilesystem) ReadFile(path string) ([]byte, error) {
	return ioutil.ReadFile(path)
}

// WriteFile implements Filesystem.
func (OsFilesystem) WriteFile(path string, data []byte) error {
	return ioutil.WriteFile(path, data, 0644)
}

// Exists implements Filesystem.
func (OsFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MemFilesystem is an in-memory Filesystem keyed by exact path.
type MemFilesystem struct {
	Files map[string][]byte
}

// NewMemFilesystem returns an empty in-memory filesystem.
func NewMemFilesystem() *MemFilesystem {
	return &MemFilesystem{Files: map[string][]byte{}}
}

// ReadFile implements Filesystem.
func (m *MemFilesystem) ReadFile(path string) ([]byte, error) {
	data, ok := m.Files[path]
	if !ok {
		return nil, fmt.Errorf("cannot open %s", path)
	}
	return data, nil
}

// WriteFile implements Filesystem.
func (m *MemFilesystem) WriteFile(path string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.Files[path] = buf
	return nil
}

// Exists implements Filesystem.
func (m *MemFilesystem) Exists(path string) bool {
	_, ok := m.Files[path]
	return ok
}

// Paths lists the stored paths in stable order.
func (m *MemFilesystem) Paths() []string {
	var paths []string
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
