package journal

import "encoding/json"

// encodeSnapshot/decodeSnapshot frame a snapshot file as JSON. This is
// deliberately simpler than the blaster wire codec: snapshots are
// DroneD-internal and never cross the network, so there's no need for the
// dual JSON/pickle content-type split.
func encodeSnapshot(entries []snapshotFile) ([]byte, error) {
	return json.Marshal(entries)
}

func decodeSnapshot(data []byte) ([]snapshotFile, error) {
	var entries []snapshotFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
