// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package payload encodes the trigger message carried through a round.
//
// A payload is "<runID>/<round>|" followed by filler up to the requested size.
// Relays forward it untouched; only the round tag is read back.
package payload

import (
	"bytes"
	"strconv"
)

const (
	tagSep  = '/'
	bodySep = '|'
)

// Make builds the trigger payload for a round, padded to size bytes.
func Make(runID string, round int, size int) []byte {
	prefix := runID + string(tagSep) + strconv.Itoa(round) + string(bodySep)
	if size <= len(prefix) {
		return []byte(prefix)
	}
	buf := make([]byte, size)
	copy(buf, prefix)
	for i := len(prefix); i < size; i++ {
		buf[i] = byte('a' + (i % 26))
	}
	return buf
}

// Parse extracts the run ID and round tag from a payload.
func Parse(p []byte) (runID string, round int, ok bool) {
	end := bytes.IndexByte(p, bodySep)
	if end <= 0 {
		return "", 0, false
	}
	tag := p[:end]
	sep := bytes.LastIndexByte(tag, tagSep)
	if sep <= 0 || sep == len(tag)-1 {
		return "", 0, false
	}
	r, err := strconv.Atoi(string(tag[sep+1:]))
	if err != nil || r < 0 {
		return "", 0, false
	}
	return string(tag[:sep]), r, true
}
