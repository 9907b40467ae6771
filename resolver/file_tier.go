package resolver

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// FileTierConfig configures the local mirror tier.
type FileTierConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Suffix string `yaml:"suffix" mapstructure:"suffix"`
}

// FileTier reads <Dir>/<id><Suffix> from fs. A nil fs uses the OS filesystem.
func FileTier(cfg FileTierConfig, fs afero.Fs) Tier {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	root := afero.NewBasePathFs(fs, cfg.Dir)
	if cfg.Dir == "" {
		root = fs
	}
	return Tier{
		Name: "mirror",
		Load: func(ctx context.Context, id string) (Module, error) {
			if strings.Contains(id, "..") {
				return nil, fmt.Errorf("invalid module id %q", id)
			}
			body, err := afero.ReadFile(root, path.Clean("/"+id+cfg.Suffix))
			if err != nil {
				if os.IsNotExist(err) {
					return nil, ErrNotFound
				}
				return nil, err
			}
			return NewResource(id, "mirror", body), nil
		},
	}
}
