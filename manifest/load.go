package manifest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"gopkg.in/yaml.v3"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// LoadFile loads a manifest from the host filesystem.
func LoadFile(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to resolve manifest path")
	}
	return Load(osfs.New(filepath.Dir(abs)), filepath.Base(abs))
}

// Load reads and decodes the manifest at name within fs. Relative paths in
// the manifest are later resolved against the manifest's directory.
func Load(fs billy.Filesystem, name string) (*Manifest, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidManifest, "failed to open manifest",
			map[string]interface{}{"path": name})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidManifest, "failed to read manifest",
			map[string]interface{}{"path": name})
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(name)
	root, err := fs.Chroot(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidManifest, "failed to open manifest directory")
	}
	m.FS = root
	m.Dir = fs.Join(fs.Root(), dir)

	return m, nil
}

// Parse decodes manifest YAML. Unknown fields are rejected so typos surface
// as errors instead of silently ignored settings.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, errors.New(errors.CodeInvalidManifest, "manifest is empty")
		}
		return nil, errors.Wrap(err, errors.CodeInvalidManifest, "failed to decode manifest")
	}

	for _, st := range m.Stages {
		for i := range st.Bootstrap.Actions {
			if st.Bootstrap.Actions[i].Parameters == nil {
				st.Bootstrap.Actions[i].Parameters = map[string]any{}
			}
		}
	}

	return &m, nil
}

// String summarizes the manifest for logs.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s (stages: %v)", m.ApplicationName, m.Stages.Names())
}
