package interfaces

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Principal is an opaque, externally-authenticated caller identity.
// Principals compare and order as byte strings; the core never interprets
// their contents.
type Principal string

// MaxPrincipalLen bounds the size of a principal token.
const MaxPrincipalLen = 63

// NewPrincipal validates and returns a principal token.
func NewPrincipal(s string) (Principal, error) {
	if s == "" {
		return "", errors.New("principal must not be empty")
	}
	if len(s) > MaxPrincipalLen {
		return "", fmt.Errorf("principal exceeds %d bytes", MaxPrincipalLen)
	}
	return Principal(s), nil
}

// String returns the principal token.
func (p Principal) String() string { return string(p) }

// AccessRights is an ordered permission level for a resource.
// Higher levels imply all lower ones.
type AccessRights uint8

const (
	RightsRead AccessRights = iota
	RightsReadWrite
	RightsReadWriteManage
)

// CanRead reports whether the level permits reading. All levels do.
func (r AccessRights) CanRead() bool { return true }

// CanWrite reports whether the level permits writing.
func (r AccessRights) CanWrite() bool { return r >= RightsReadWrite }

// CanManage reports whether the level permits granting and revoking rights.
func (r AccessRights) CanManage() bool { return r >= RightsReadWriteManage }

func (r AccessRights) String() string {
	switch r {
	case RightsRead:
		return "read"
	case RightsReadWrite:
		return "read-write"
	case RightsReadWriteManage:
		return "read-write-manage"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(r))
	}
}

// MarshalText encodes the level as its string form.
func (r AccessRights) MarshalText() ([]byte, error) {
	if r > RightsReadWriteManage {
		return nil, fmt.Errorf("invalid access rights %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a level from its string form.
func (r *AccessRights) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read":
		*r = RightsRead
	case "read-write":
		*r = RightsReadWrite
	case "read-write-manage":
		*r = RightsReadWriteManage
	default:
		return fmt.Errorf("unknown access rights %q", string(text))
	}
	return nil
}

// Time is a wall-clock reading in nanoseconds since the Unix epoch, as
// supplied by the host. The host guarantees it never decreases within one
// resource's history.
type Time uint64

// NanosecondsInMinute converts the minute-granularity durations of the
// public API into Time values.
const NanosecondsInMinute = Time(60_000_000_000)

// Add returns t+d, saturating at the maximum representable time.
func (t Time) Add(d Time) Time {
	if t > math.MaxUint64-d {
		return math.MaxUint64
	}
	return t + d
}

// TimeFromMinutes converts a duration in minutes to a Time delta,
// saturating on overflow.
func TimeFromMinutes(minutes uint64) Time {
	if minutes > math.MaxUint64/uint64(NanosecondsInMinute) {
		return math.MaxUint64
	}
	return Time(minutes) * NanosecondsInMinute
}

// VetKeyEpochID identifies one key epoch of a resource. Epoch ids are
// assigned sequentially from 0 with no gaps.
type VetKeyEpochID uint64

// SymmetricKeyEpochID is a time-sliced sub-period within a vetkey epoch,
// computed from elapsed time and the epoch's rotation duration.
type SymmetricKeyEpochID uint64

// ChatMessageID is a per-resource message sequence number, assigned
// strictly increasing from 0.
type ChatMessageID uint64

// ResourceKind discriminates the ResourceID union.
type ResourceKind uint8

const (
	// KVResource is a named key/value resource owned by a principal.
	KVResource ResourceKind = iota + 1
	// DirectChat is a chat between an unordered pair of principals.
	DirectChat
	// GroupChat is a chat identified by a sequential integer id.
	GroupChat
)

// MaxResourceNameLen bounds the name of a key/value resource.
const MaxResourceNameLen = 32

// ResourceID identifies a key/value resource or a chat. The zero value is
// invalid. Direct chat ids are canonical: the two participants are stored
// sorted, so Direct(A,B) and Direct(B,A) are the same ResourceID.
type ResourceID struct {
	Kind  ResourceKind
	Owner Principal // KV owner, or the lower principal of a direct chat
	Name  string    // KV resource name, at most MaxResourceNameLen bytes
	Peer  Principal // the higher principal of a direct chat
	Group uint64    // group chat id
}

// NewKVResourceID builds the id of a key/value resource.
func NewKVResourceID(owner Principal, name []byte) (ResourceID, error) {
	if owner == "" {
		return ResourceID{}, errors.New("resource owner must not be empty")
	}
	if len(name) > MaxResourceNameLen {
		return ResourceID{}, fmt.Errorf("resource name exceeds %d bytes", MaxResourceNameLen)
	}
	return ResourceID{Kind: KVResource, Owner: owner, Name: string(name)}, nil
}

// NewDirectChatID builds the canonical id of a direct chat between two
// principals. The pair is unordered; a self-chat (a == b) is valid.
func NewDirectChatID(a, b Principal) ResourceID {
	if b < a {
		a, b = b, a
	}
	return ResourceID{Kind: DirectChat, Owner: a, Peer: b}
}

// NewGroupChatID builds the id of a group chat.
func NewGroupChatID(id uint64) ResourceID {
	return ResourceID{Kind: GroupChat, Group: id}
}

// IsChat reports whether the resource is a direct or group chat.
func (r ResourceID) IsChat() bool { return r.Kind == DirectChat || r.Kind == GroupChat }

// DirectParticipants returns the canonical participant pair of a direct chat.
func (r ResourceID) DirectParticipants() (Principal, Principal) { return r.Owner, r.Peer }

// ContextBytes returns the canonical encoding of the resource id, used as
// the key-derivation context and for persistence. Encodings of distinct
// resources never collide: every variable-length field is length-prefixed.
func (r ResourceID) ContextBytes() []byte {
	buf := []byte{byte(r.Kind)}
	appendStr := func(s string) {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(s)))
		buf = append(buf, l[:]...)
		buf = append(buf, s...)
	}
	switch r.Kind {
	case KVResource:
		appendStr(string(r.Owner))
		appendStr(r.Name)
	case DirectChat:
		appendStr(string(r.Owner))
		appendStr(string(r.Peer))
	case GroupChat:
		var id [8]byte
		binary.BigEndian.PutUint64(id[:], r.Group)
		buf = append(buf, id[:]...)
	}
	return buf
}

// String renders the resource id for logs and error messages.
func (r ResourceID) String() string {
	switch r.Kind {
	case KVResource:
		return fmt.Sprintf("kv:%s/%x", r.Owner, r.Name)
	case DirectChat:
		return fmt.Sprintf("direct:%s+%s", r.Owner, r.Peer)
	case GroupChat:
		return fmt.Sprintf("group:%d", r.Group)
	default:
		return fmt.Sprintf("invalid:%d", r.Kind)
	}
}

// Less orders resource ids: kv < direct < group, then by fields. The
// minimum chat id is the direct chat between the two lowest principals.
func (r ResourceID) Less(o ResourceID) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	switch r.Kind {
	case KVResource:
		if r.Owner != o.Owner {
			return r.Owner < o.Owner
		}
		return r.Name < o.Name
	case DirectChat:
		if r.Owner != o.Owner {
			return r.Owner < o.Owner
		}
		return r.Peer < o.Peer
	default:
		return r.Group < o.Group
	}
}

type resourceIDJSON struct {
	Kind         string      `json:"kind"`
	Owner        Principal   `json:"owner,omitempty"`
	Name         []byte      `json:"name,omitempty"`
	Participants []Principal `json:"participants,omitempty"`
	ID           *uint64     `json:"id,omitempty"`
}

// MarshalJSON encodes the resource id in its wire form.
func (r ResourceID) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KVResource:
		return json.Marshal(resourceIDJSON{Kind: "kv", Owner: r.Owner, Name: []byte(r.Name)})
	case DirectChat:
		return json.Marshal(resourceIDJSON{Kind: "direct", Participants: []Principal{r.Owner, r.Peer}})
	case GroupChat:
		id := r.Group
		return json.Marshal(resourceIDJSON{Kind: "group", ID: &id})
	default:
		return nil, fmt.Errorf("invalid resource kind %d", r.Kind)
	}
}

// UnmarshalJSON decodes the wire form, canonicalizing direct chat pairs.
func (r *ResourceID) UnmarshalJSON(data []byte) error {
	var w resourceIDJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "kv":
		id, err := NewKVResourceID(w.Owner, w.Name)
		if err != nil {
			return err
		}
		*r = id
	case "direct":
		if len(w.Participants) != 2 {
			return errors.New("direct chat id requires exactly two participants")
		}
		*r = NewDirectChatID(w.Participants[0], w.Participants[1])
	case "group":
		if w.ID == nil {
			return errors.New("group chat id requires an id")
		}
		*r = NewGroupChatID(*w.ID)
	default:
		return fmt.Errorf("unknown resource kind %q", w.Kind)
	}
	return nil
}

// EpochInfo is the immutable snapshot of one key epoch. Rotation creates a
// new EpochInfo; existing ones are never mutated.
type EpochInfo struct {
	ID                 VetKeyEpochID `json:"id"`
	Participants       []Principal   `json:"participants"` // sorted, no duplicates
	CreatedAt          Time          `json:"created_at"`
	RotationDuration   Time          `json:"rotation_duration"`
	ExpirationDuration Time          `json:"expiration_duration"`
}

// ExpiresAt returns the retention deadline of the epoch.
func (e EpochInfo) ExpiresAt() Time {
	return e.CreatedAt.Add(e.ExpirationDuration)
}

// Expired reports whether the epoch has passed its retention deadline.
func (e EpochInfo) Expired(now Time) bool {
	return now >= e.ExpiresAt()
}

// HasParticipant reports whether p is in the epoch's participant snapshot.
func (e EpochInfo) HasParticipant(p Principal) bool {
	i := sort.Search(len(e.Participants), func(i int) bool { return e.Participants[i] >= p })
	return i < len(e.Participants) && e.Participants[i] == p
}

// SymmetricKeyEpochAt computes the symmetric key epoch active at now.
// Readings before the epoch's creation clamp to sub-epoch 0.
func (e EpochInfo) SymmetricKeyEpochAt(now Time) SymmetricKeyEpochID {
	if now <= e.CreatedAt || e.RotationDuration == 0 {
		return 0
	}
	return SymmetricKeyEpochID(uint64(now-e.CreatedAt) / uint64(e.RotationDuration))
}

// SymmetricKeyEpochStart returns the start time of the given sub-epoch.
func (e EpochInfo) SymmetricKeyEpochStart(id SymmetricKeyEpochID) Time {
	if e.RotationDuration == 0 {
		return e.CreatedAt
	}
	if uint64(id) > math.MaxUint64/uint64(e.RotationDuration) {
		return math.MaxUint64
	}
	return e.CreatedAt.Add(Time(uint64(id) * uint64(e.RotationDuration)))
}
