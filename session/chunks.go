package session

import (
	"bytes"
	"compress/gzip"
	"io"
)

// compressToken gzips a token. The result is stored as raw bytes; cookie
// encoding happens in the session store.
func compressToken(token string) ([]byte, error) {
	var b bytes.Buffer
	gz := gzip.NewWriter(&b)
	if _, err := gz.Write([]byte(token)); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decompressToken(data []byte) (string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// splitIntoChunks splits data into pieces of at most chunkSize bytes.
func splitIntoChunks(data []byte, chunkSize int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := chunkSize
		if len(data) < n {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
