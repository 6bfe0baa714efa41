// Copyright 2024 RMXFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"path"
	"strings"
)

// NormalizePath cleans a projected path and strips leading/trailing slashes.
// The projected tree always uses forward slashes regardless of host OS.
func NormalizePath(p string) string {
	p = path.Clean("/" + p)
	p = strings.Trim(p, "/")
	return p
}

// SplitPath splits a projected path into its segments. Root yields nil.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ParentPath returns the parent of a projected path ("" for root children).
func ParentPath(p string) string {
	p = NormalizePath(p)
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// BaseName returns the last segment of a projected path.
func BaseName(p string) string {
	p = NormalizePath(p)
	return p[strings.LastIndexByte(p, '/')+1:]
}

// SplitExt splits a file name into stem and extension without the dot.
// Leading-dot names (".hidden") have no extension.
func SplitExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// ValidName reports whether name can be a single directory entry.
func ValidName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/') && !strings.ContainsRune(name, 0)
}
