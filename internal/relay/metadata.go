package relay

import "encoding/json"

// encodeMembers JSON-encodes a member list for storage in the
// InboundMessage.Metadata["group_members"] string value.
func encodeMembers(members []Member) string {
	data, err := json.Marshal(members)
	if err != nil {
		return "[]"
	}
	return string(data)
}
