package realtime

import "bloodlink/api/internal/store"

// TopicKind tags which audience a Topic addresses.
type TopicKind int

const (
	KindDonorsByBloodType TopicKind = iota + 1
	KindDonor
	KindHospital
)

// Topic is a fan-out group. Only the constructors below produce valid topics,
// so group names are never assembled by hand at call sites.
type Topic struct {
	kind TopicKind
	key  string
}

// DonorsByBloodType addresses every connected donor of one blood type.
func DonorsByBloodType(bt store.BloodType) Topic {
	return Topic{kind: KindDonorsByBloodType, key: string(bt)}
}

// Donor addresses one donor's private group.
func Donor(id string) Topic {
	return Topic{kind: KindDonor, key: id}
}

// Hospital addresses one hospital's private group.
func Hospital(id string) Topic {
	return Topic{kind: KindHospital, key: id}
}

func (t Topic) Kind() TopicKind { return t.kind }
func (t Topic) Key() string     { return t.key }

func (t Topic) IsZero() bool {
	return t.kind == 0 || t.key == ""
}

// String renders the group name used in logs and audit records.
func (t Topic) String() string {
	switch t.kind {
	case KindDonorsByBloodType:
		return "donors:" + t.key
	case KindDonor:
		return "donor:" + t.key
	case KindHospital:
		return "hospital:" + t.key
	default:
		return ""
	}
}
