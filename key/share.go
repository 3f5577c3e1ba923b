package key

import (
	"errors"
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"

	"github.com/drand/bracha/crypto"
)

// Share holds one node's share of the group's threshold key, together with
// the public commitments needed to verify any node's partial signatures.
type Share struct {
	Scheme  *crypto.Scheme
	Share   *share.PriShare
	Commits []kyber.Point
}

// PrivateShare returns the private share used to produce partial signatures.
func (s *Share) PrivateShare() *share.PriShare {
	return s.Share
}

// Public returns the distributed public key associated with this share.
func (s *Share) Public() *DistPublic {
	return &DistPublic{Coefficients: s.Commits}
}

// PubPoly returns the public polynomial against which partial signatures are
// verified.
func (s *Share) PubPoly() *share.PubPoly {
	return share.NewPubPoly(s.Scheme.KeyGroup, s.Scheme.KeyGroup.Point().Base(), s.Commits)
}

// Index returns the index of the share within the group.
func (s *Share) Index() int {
	return s.Share.I
}

// ShareTOML is the TOML representation of a threshold share.
type ShareTOML struct {
	Index      int
	Share      string
	Commits    []string
	SchemeName string
}

// TOML returns a TOML-compatible version of this share.
func (s *Share) TOML() interface{} {
	t := &ShareTOML{
		Index:      s.Share.I,
		Share:      ScalarToString(s.Share.V),
		Commits:    make([]string, len(s.Commits)),
		SchemeName: s.Scheme.Name,
	}
	for i, c := range s.Commits {
		t.Commits[i] = PointToString(c)
	}
	return t
}

// FromTOML initializes the share from the given TOML-compatible value.
func (s *Share) FromTOML(i interface{}) error {
	t, ok := i.(*ShareTOML)
	if !ok {
		return errors.New("share can't decode toml from non ShareTOML struct")
	}
	sch, err := crypto.GetSchemeByIDWithDefault(t.SchemeName)
	if err != nil {
		return err
	}
	s.Scheme = sch
	v, err := StringToScalar(sch.KeyGroup, t.Share)
	if err != nil {
		return fmt.Errorf("decoding private share: %w", err)
	}
	s.Share = &share.PriShare{I: t.Index, V: v}
	s.Commits = make([]kyber.Point, len(t.Commits))
	for i, c := range t.Commits {
		s.Commits[i], err = StringToPoint(sch.KeyGroup, c)
		if err != nil {
			return fmt.Errorf("decoding commit %d: %w", i, err)
		}
	}
	return nil
}

// TOMLValue returns an empty TOML-compatible value of the share.
func (s *Share) TOMLValue() interface{} {
	return &ShareTOML{}
}

// DistPublic represents the distributed public key of the group: the public
// commitments of the secret-sharing polynomial. The first coefficient is the
// group public key itself.
type DistPublic struct {
	Coefficients []kyber.Point
}

// Key returns the group public key.
func (d *DistPublic) Key() kyber.Point {
	return d.Coefficients[0]
}

// PubPoly returns the public polynomial of the group under the given scheme.
func (d *DistPublic) PubPoly(sch *crypto.Scheme) *share.PubPoly {
	return share.NewPubPoly(sch.KeyGroup, sch.KeyGroup.Point().Base(), d.Coefficients)
}

// DistPublicTOML is the TOML representation of a distributed public key.
type DistPublicTOML struct {
	Coefficients []string
}

// TOML returns a TOML-compatible version of the distributed public key.
func (d *DistPublic) TOML() interface{} {
	strs := make([]string, len(d.Coefficients))
	for i, c := range d.Coefficients {
		strs[i] = PointToString(c)
	}
	return &DistPublicTOML{Coefficients: strs}
}

// FromTOML initializes the distributed public key from the given
// TOML-compatible value, interpreted under the given scheme.
func (d *DistPublic) FromTOML(sch *crypto.Scheme, i interface{}) error {
	t, ok := i.(*DistPublicTOML)
	if !ok {
		return errors.New("distpublic can't decode toml from non DistPublicTOML struct")
	}
	if len(t.Coefficients) == 0 {
		return errors.New("distpublic has no coefficients")
	}
	d.Coefficients = make([]kyber.Point, len(t.Coefficients))
	var err error
	for i, c := range t.Coefficients {
		d.Coefficients[i], err = StringToPoint(sch.KeyGroup, c)
		if err != nil {
			return fmt.Errorf("decoding coefficient %d: %w", i, err)
		}
	}
	return nil
}

// TOMLValue returns an empty TOML-compatible value of the distributed public
// key.
func (d *DistPublic) TOMLValue() interface{} {
	return &DistPublicTOML{}
}
