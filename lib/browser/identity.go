package browser

import (
	fakeua "github.com/EDDYCJY/fake-useragent"
	"github.com/mazen160/go-random"
)

// Identity is the client identity a session presents to the target
// site. It is chosen once at acquisition and never rotated mid-session,
// rotating it midway leaves inconsistent server-side state behind.
type Identity struct {
	UserAgent string
	SessionId string
}

type IdentityPolicy func() (Identity, error)

// RandomDesktopIdentity picks a plausible desktop user agent per
// session to reduce detectability.
func RandomDesktopIdentity() (Identity, error) {
	id, err := random.String(12)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserAgent: fakeua.Computer(),
		SessionId: id,
	}, nil
}

// FixedIdentity always presents the given user agent, useful when the
// target expects a stable client across runs.
func FixedIdentity(userAgent string) IdentityPolicy {
	return func() (Identity, error) {
		id, err := random.String(12)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			UserAgent: userAgent,
			SessionId: id,
		}, nil
	}
}
