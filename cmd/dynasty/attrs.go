package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"dynastycore/pkg/domain"
)

const dateLayout = "2006-01-02"

// attrFlags collects member attribute flags shared by several commands.
type attrFlags struct {
	name   string
	gender string
	born   string
	died   string
	bio    string
	image  string
}

func (f *attrFlags) bind(fs *pflag.FlagSet, prefix string) {
	fs.StringVar(&f.name, prefix+"name", "", "display name")
	fs.StringVar(&f.gender, prefix+"gender", string(domain.GenderOther), "gender: male, female or other")
	fs.StringVar(&f.born, prefix+"born", "", "birth date (YYYY-MM-DD)")
	fs.StringVar(&f.died, prefix+"died", "", "death date (YYYY-MM-DD)")
	fs.StringVar(&f.bio, prefix+"bio", "", "biography")
	fs.StringVar(&f.image, prefix+"image", "", "profile image media key")
}

func (f *attrFlags) attributes() (domain.MemberAttributes, error) {
	attrs := domain.MemberAttributes{
		DisplayName:  f.name,
		Gender:       domain.Gender(f.gender),
		Biography:    f.bio,
		ProfileImage: f.image,
	}
	var err error
	if attrs.BirthDate, err = parseDate(f.born); err != nil {
		return attrs, err
	}
	if attrs.DeathDate, err = parseDate(f.died); err != nil {
		return attrs, err
	}
	return attrs, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return &t, nil
}

// parseEdgeRefs splits "id" or "id:type" references into ids and a type map.
func parseEdgeRefs(refs []string, types map[string]domain.EdgeType) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, typ, found := strings.Cut(ref, ":")
		if id == "" {
			return nil, fmt.Errorf("invalid member reference %q", ref)
		}
		if found {
			if typ == "" {
				return nil, fmt.Errorf("invalid member reference %q", ref)
			}
			types[id] = domain.EdgeType(typ)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
