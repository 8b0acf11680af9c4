// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
)

// Backend transfers packed database artifacts to a shared storage such as:
// 1. oss: an object storage backend, which uses its SDK to transfer files.
// 2. s3: an S3-compatible object storage, addressed through the AWS SDK.
type Backend interface {
	Upload(ctx context.Context, key, path string, forcePush bool) error
	Check(key string) (bool, error)
	Type() Type
}

type Type = int

const (
	OssBackend Type = iota
	S3backend
)

// NewBackend creates a storage backend from a JSON configuration. The
// backend is configured via a json string input because the option sets of
// the supported storages do not overlap.
func NewBackend(bt string, config []byte) (Backend, error) {
	switch bt {
	case "oss":
		return newOSSBackend(config)
	case "s3":
		return newS3Backend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type %s", bt)
	}
}
