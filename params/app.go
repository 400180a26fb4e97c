package params

import (
	"path/filepath"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/mitchellh/go-homedir"
)

func init() {
	metrics.Enabled = true
}

const AppName = "globetiles"

var DatadirRoot = func() string {
	home, err := homedir.Dir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, "."+AppName)
}()

// TexturesDBName is the bbolt file holding seeded textures, relative to DatadirRoot.
var TexturesDBName = "textures.db"
