package packer

import (
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jlwatson/certified-dp/pkg/backend"
	"github.com/jlwatson/certified-dp/pkg/metrics"
	"github.com/jlwatson/certified-dp/pkg/record"
	"github.com/jlwatson/certified-dp/pkg/utils"
)

const (
	defaultDatabaseName = "census_db.bin"
	defaultOutputDir    = "."

	// Leading records decoded and echoed back after a pack.
	verifyRecords = 10
)

var ErrInputFormat = errors.New("invalid input format")

type Opt struct {
	LogLevel  logrus.Level
	OutputDir string
	// Schema defaults to record.Census.
	Schema   *record.Schema
	Compress bool
	Backend  backend.Backend
}

type Packer struct {
	logger   *logrus.Logger
	schema   *record.Schema
	compress bool
	backend  backend.Backend
	Artifact
}

type PackRequest struct {
	SourcePath string
	// Name of the database file under OutputDir, default census_db.bin.
	Name string
	// Push uploads the packed database (and its compressed copy when
	// enabled) to the configured storage backend.
	Push bool
}

type PackResult struct {
	Path           string
	CompressedPath string
	Records        int
	Digest         string
}

func New(opt Opt) (*Packer, error) {
	logger, err := initLogger(opt.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init logger")
	}
	artifact, err := NewArtifact(opt.OutputDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init artifact")
	}
	schema := opt.Schema
	if schema == nil {
		schema = record.Census
	}
	return &Packer{
		logger:   logger,
		schema:   schema,
		compress: opt.Compress,
		backend:  opt.Backend,
		Artifact: artifact,
	}, nil
}

// Pack encodes every row of the source dataset into one packed word and
// writes the words to a flat database file in source order. A malformed row
// aborts the pack and removes the partial file.
func (p *Packer) Pack(ctx context.Context, req PackRequest) (PackResult, error) {
	start := time.Now()
	name := req.Name
	if utils.IsEmptyString(name) {
		name = defaultDatabaseName
	}
	p.logger.Infof("start to pack dataset %q", req.SourcePath)

	source, err := newCSVSource(req.SourcePath, censusColumns)
	if err != nil {
		return PackResult{}, err
	}
	defer source.Close()

	databasePath := p.databasePath(name)
	records, head, err := p.writeDatabase(source, databasePath)
	if err != nil {
		if removeErr := os.Remove(databasePath); removeErr != nil && !os.IsNotExist(removeErr) {
			p.logger.Warnf("remove partial database %s: %v", databasePath, removeErr)
		}
		return PackResult{}, err
	}

	if err := p.verifyHead(databasePath, head); err != nil {
		return PackResult{}, err
	}

	digest, err := utils.HashFile(databasePath)
	if err != nil {
		return PackResult{}, errors.Wrap(err, "hash packed database")
	}

	result := PackResult{
		Path:    databasePath,
		Records: records,
		Digest:  hex.EncodeToString(digest),
	}

	if p.compress {
		compressedPath, err := p.compressDatabase(databasePath, p.compressedPath(name))
		if err != nil {
			return PackResult{}, err
		}
		result.CompressedPath = compressedPath
	}

	if req.Push {
		if err := p.push(ctx, name, result); err != nil {
			return PackResult{}, err
		}
	}

	metrics.PackedRecords(name, records)
	metrics.PackDuration(name, records, start)
	p.logger.Infof("packed %d records into %s (blake3 %s)", records, databasePath, result.Digest)

	return result, nil
}

// writeDatabase drives the codec over the row source. It returns the record
// count and the first words written, kept for read-back verification.
func (p *Packer) writeDatabase(source *csvSource, path string) (int, []uint64, error) {
	file, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "create database file %s", path)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	values := make([]uint64, len(p.schema.Fields))
	buf := make([]byte, p.schema.Size())
	head := make([]uint64, 0, verifyRecords)
	records := 0

	for {
		if err := source.Next(values); err != nil {
			if err == io.EOF {
				break
			}
			return 0, nil, err
		}
		word := p.schema.Pack(values...)
		p.schema.PutWord(buf, word)
		if _, err := writer.Write(buf); err != nil {
			return 0, nil, errors.Wrapf(err, "write record %d", records)
		}
		if records < verifyRecords {
			head = append(head, word)
		}
		records++
	}

	if err := writer.Flush(); err != nil {
		return 0, nil, errors.Wrap(err, "flush database file")
	}
	return records, head, nil
}

// verifyHead decodes the leading records of the packed file and checks them
// against the words just written, echoing the decoded fields at debug level.
func (p *Packer) verifyHead(path string, head []uint64) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open database %s for verification", path)
	}
	defer file.Close()

	buf := make([]byte, p.schema.Size())
	for i, want := range head {
		if _, err := io.ReadFull(file, buf); err != nil {
			return errors.Wrapf(err, "read back record %d", i)
		}
		word := p.schema.Word(buf)
		if word != want {
			return errors.Errorf("read back record %d: got %#x, want %#x", i, word, want)
		}
		p.logger.Debugf("record %d: %#x -> %v", i, word, p.schema.Unpack(word))
	}
	return nil
}

// compressDatabase writes a zstd transfer copy alongside the raw file. The
// raw file is kept as-is for consumers that memory-map it.
func (p *Packer) compressDatabase(path, target string) (string, error) {
	source, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open database for compression")
	}
	defer source.Close()

	file, err := os.OpenFile(target, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "create compressed database %s", target)
	}

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return "", errors.Wrap(err, "create zstd writer")
	}
	if _, err := io.Copy(encoder, source); err != nil {
		encoder.Close()
		file.Close()
		os.Remove(target)
		return "", errors.Wrap(err, "compress database")
	}
	if err := encoder.Close(); err != nil {
		file.Close()
		os.Remove(target)
		return "", errors.Wrap(err, "flush compressed database")
	}
	if err := file.Close(); err != nil {
		return "", errors.Wrap(err, "close compressed database")
	}

	p.logger.Infof("compressed database into %s", target)
	return target, nil
}

func (p *Packer) push(ctx context.Context, name string, result PackResult) error {
	if p.backend == nil {
		return errors.New("backend config is required for pushing the database")
	}
	if err := utils.WithRetry(func() error {
		return p.backend.Upload(ctx, name, result.Path, false)
	}); err != nil {
		return errors.Wrapf(err, "upload %s", name)
	}
	if result.CompressedPath != "" {
		if err := utils.WithRetry(func() error {
			return p.backend.Upload(ctx, name+".zst", result.CompressedPath, false)
		}); err != nil {
			return errors.Wrapf(err, "upload %s.zst", name)
		}
	}
	return nil
}

func initLogger(logLevel logrus.Level) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetLevel(logLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger, nil
}
