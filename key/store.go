package key

import (
	"fmt"
	"os"
	"path"

	"github.com/BurntSushi/toml"

	"github.com/drand/bracha/fs"
)

// Tomler represents any struct that can be saved to and loaded from a TOML
// file.
type Tomler interface {
	TOML() interface{}
	FromTOML(i interface{}) error
	TOMLValue() interface{}
}

// Store abstracts the loading and saving of any private/public cryptographic
// material to be used by a broadcast node.
type Store interface {
	SaveKeyPair(p *Pair) error
	LoadKeyPair() (*Pair, error)
	SaveShare(share *Share) error
	LoadShare() (*Share, error)
	SaveGroup(group *Group) error
	LoadGroup() (*Group, error)
}

const keyFileName = "bracha_id.private"
const publicFileName = "bracha_id.public"
const shareFileName = "bracha_share.private"
const groupFileName = "group.toml"

type fileStore struct {
	baseFolder     string
	privateKeyFile string
	publicKeyFile  string
	shareFile      string
	groupFile      string
}

// NewFileStore returns a file-based store saving all material under the
// given folder, private files with user-only permissions.
func NewFileStore(baseFolder string) (Store, error) {
	if _, err := fs.CreateSecureFolder(baseFolder); err != nil {
		return nil, fmt.Errorf("key store: creating folder: %w", err)
	}
	return &fileStore{
		baseFolder:     baseFolder,
		privateKeyFile: path.Join(baseFolder, keyFileName),
		publicKeyFile:  path.Join(baseFolder, publicFileName),
		shareFile:      path.Join(baseFolder, shareFileName),
		groupFile:      path.Join(baseFolder, groupFileName),
	}, nil
}

// SaveKeyPair saves the private key in a file with user-only permissions and
// the public identity in a regular file.
func (f *fileStore) SaveKeyPair(p *Pair) error {
	if err := Save(f.privateKeyFile, p, true); err != nil {
		return err
	}
	return Save(f.publicKeyFile, p.Public, false)
}

// LoadKeyPair loads the private key pair saved in the store's folder.
func (f *fileStore) LoadKeyPair() (*Pair, error) {
	p := new(Pair)
	if err := Load(f.privateKeyFile, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *fileStore) SaveShare(share *Share) error {
	return Save(f.shareFile, share, true)
}

func (f *fileStore) LoadShare() (*Share, error) {
	s := new(Share)
	if err := Load(f.shareFile, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fileStore) SaveGroup(group *Group) error {
	return Save(f.groupFile, group, false)
}

func (f *fileStore) LoadGroup() (*Group, error) {
	g := new(Group)
	if err := Load(f.groupFile, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Save writes the given Tomler to the given path, with user-only permissions
// when secure is true.
func Save(filePath string, t Tomler, secure bool) error {
	var fd *os.File
	var err error
	if secure {
		fd, err = fs.CreateSecureFile(filePath)
	} else {
		fd, err = os.Create(filePath)
	}
	if err != nil {
		return fmt.Errorf("saving %s: %w", filePath, err)
	}
	defer fd.Close()
	return toml.NewEncoder(fd).Encode(t.TOML())
}

// Load reads the file at the given path into the given Tomler.
func Load(filePath string, t Tomler) error {
	tomlValue := t.TOMLValue()
	if _, err := toml.DecodeFile(filePath, tomlValue); err != nil {
		return fmt.Errorf("loading %s: %w", filePath, err)
	}
	return t.FromTOML(tomlValue)
}
