package admission

import "hash/fnv"

// numericID folds an opaque client-supplied string id into the uint32
// space domain.UserID / domain.DataChannelPeerID use. Collisions are
// possible but vanishingly unlikely for the room sizes this admission
// layer targets.
func numericID(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
