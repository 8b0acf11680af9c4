// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type S3Backend struct {
	// objectPrefix is the path prefix of the uploaded object.
	// For example, if the key which should be uploaded is "census_db.bin",
	// and the objectPrefix is "path/to/my-db/", then the object key will be
	// "path/to/my-db/census_db.bin".
	objectPrefix       string
	bucketName         string
	endpointWithScheme string
	client             *s3.Client
}

type S3Config struct {
	AccessKeyID     string `json:"access_key_id,omitempty"`
	AccessKeySecret string `json:"access_key_secret,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Scheme          string `json:"scheme,omitempty"`
	BucketName      string `json:"bucket_name,omitempty"`
	Region          string `json:"region,omitempty"`
	ObjectPrefix    string `json:"object_prefix,omitempty"`
}

func newS3Backend(rawConfig []byte) (*S3Backend, error) {
	cfg := &S3Config{}
	if err := json.Unmarshal(rawConfig, cfg); err != nil {
		return nil, errors.Wrap(err, "parse S3 storage backend configuration")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "s3.amazonaws.com"
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	endpointWithScheme := fmt.Sprintf("%s://%s", cfg.Scheme, cfg.Endpoint)

	if cfg.BucketName == "" || cfg.Region == "" {
		return nil, fmt.Errorf("invalid S3 configuration: missing 'bucket_name' or 'region'")
	}

	s3AWSConfig, err := awscfg.LoadDefaultConfig(context.TODO())
	if err != nil {
		return nil, errors.Wrap(err, "load default AWS config")
	}

	client := s3.NewFromConfig(s3AWSConfig, func(o *s3.Options) {
		o.BaseEndpoint = &endpointWithScheme
		o.Region = cfg.Region
		o.UsePathStyle = true
		if len(cfg.AccessKeySecret) > 0 && len(cfg.AccessKeyID) > 0 {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")
		}
	})

	return &S3Backend{
		objectPrefix:       cfg.ObjectPrefix,
		bucketName:         cfg.BucketName,
		endpointWithScheme: endpointWithScheme,
		client:             client,
	}, nil
}

func (b *S3Backend) Upload(ctx context.Context, key, path string, forcePush bool) error {
	objectKey := b.objectKey(key)

	if !forcePush {
		if exist, err := b.existObject(ctx, objectKey); err != nil {
			return errors.Wrap(err, "check object existence")
		} else if exist {
			logrus.Infof("skip upload because artifact exists: %s", key)
			return nil
		}
	}

	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open artifact file")
	}
	defer file.Close()

	uploader := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.PartSize = multipartChunkSize
	})
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(b.bucketName),
		Key:               aws.String(objectKey),
		Body:              file,
		ChecksumAlgorithm: types.ChecksumAlgorithmCrc32,
	})
	if err != nil {
		return errors.Wrap(err, "upload artifact to s3 backend")
	}

	logrus.Debugf("uploaded artifact %s to s3 backend, costs %s", objectKey, time.Since(start))

	return nil
}

func (b *S3Backend) Check(key string) (bool, error) {
	return b.existObject(context.TODO(), b.objectKey(key))
}

func (b *S3Backend) Type() Type {
	return S3backend
}

func (b *S3Backend) existObject(ctx context.Context, objectKey string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &b.bucketName,
		Key:    &objectKey,
	})
	if err != nil {
		var responseError *awshttp.ResponseError
		if errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *S3Backend) objectKey(key string) string {
	return b.objectPrefix + key
}
