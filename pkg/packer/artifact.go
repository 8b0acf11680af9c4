package packer

import (
	"os"
	"path/filepath"

	"github.com/jlwatson/certified-dp/pkg/utils"
)

type Artifact struct {
	OutputDir string
}

func NewArtifact(outputDir string) (Artifact, error) {
	res := Artifact{OutputDir: outputDir}
	if err := res.ensureOutputDir(); err != nil {
		return Artifact{}, err
	}
	return res, nil
}

func (a Artifact) databasePath(name string) string {
	return filepath.Join(a.OutputDir, name)
}

func (a Artifact) compressedPath(name string) string {
	return a.databasePath(name) + ".zst"
}

// ensureOutputDir use user defined outputDir or defaultOutputDir, and make sure dir exists
func (a *Artifact) ensureOutputDir() error {
	if utils.IsEmptyString(a.OutputDir) {
		a.OutputDir = defaultOutputDir
	}
	return os.MkdirAll(a.OutputDir, 0755)
}
