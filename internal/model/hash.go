// Copyright 2025 Docflow Authors
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

package model

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DocHash computes the content identity of a document: "sha256-<hex>".
func DocHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256-" + hex.EncodeToString(sum[:])
}

// MD5Hex computes the hex MD5 of data, recorded in doc_meta for
// cross-checking against source systems that publish MD5 digests.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// StripHashPrefix removes a leading "prefix-" or "prefix:" qualifier from a
// hash string so hashes from different systems compare on the digest alone.
func StripHashPrefix(hash string) string {
	if i := strings.IndexAny(hash, "-:"); i >= 0 {
		return hash[i+1:]
	}
	return hash
}
