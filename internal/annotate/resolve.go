package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// MetadataKey is the sidecar metadata field listing detected array types.
const MetadataKey = "detected_illumina_array_types"

// ResolveTable decides which annotation table to use: explicit when set,
// else the first entry of the sidecar metadata at metadataPath, else the
// first table g reports as covering every feature.
func ResolveTable(ctx context.Context, explicit, metadataPath string, features []string, g Guesser) (string, error) {
	if id := normalizeID(explicit); id != "" {
		return id, nil
	}
	if metadataPath != "" {
		id, err := tableFromMetadata(metadataPath)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	if g != nil {
		found, err := g.Guess(ctx, features)
		if err != nil {
			return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("guess table: %w", err)}
		}
		if len(found) > 0 {
			return normalizeID(found[0]), nil
		}
	}
	return "", &Error{Kind: KindUnknownTable, Err: errors.New("no annotation table given, recorded or matching")}
}

func tableFromMetadata(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("read metadata: %w", err)}
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("parse metadata %s: %w", path, err)}
	}
	raw, ok := meta[MetadataKey]
	if !ok {
		return "", nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("metadata %s: %s is not a list of strings", path, MetadataKey)}
		}
		list = []string{single}
	}
	if len(list) == 0 {
		return "", nil
	}
	return normalizeID(list[0]), nil
}
