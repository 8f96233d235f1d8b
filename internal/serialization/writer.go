package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Producer identifies files written by this package.
const Producer = "qonnx2mdc"

// Encode serializes a state dictionary with its header.
//
// Tensors are stored in name order, so equal inputs give equal data
// sections. Header fields that describe the file itself (format version,
// tensor table, timestamps, run ID if empty) are filled in here.
func Encode(stateDict map[string]*tensor.Tensor, header Header) ([]byte, error) {
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		if err := ValidateTensorName(name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header.FormatVersion = FormatVersion
	if header.Producer == "" {
		header.Producer = Producer
	}
	if header.RunID == "" {
		header.RunID = uuid.NewString()
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}

	var offset int64
	header.Tensors = make([]TensorMeta, 0, len(names))
	for _, name := range names {
		t := stateDict[name]
		size := int64(t.Len()) * 4
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  DTypeFloat32,
			Shape:  []int(t.Shape().Clone()),
			Offset: offset,
			Size:   size,
		})
		offset += size
	}

	data := make([]byte, 0, offset)
	for _, name := range names {
		for _, v := range stateDict[name].Data() {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	flags := uint32(0)
	if header.Training != nil {
		flags |= FlagHasTraining
	}
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}

	start := dataOffset(int64(len(headerJSON)))
	buf := make([]byte, start, start+int64(len(data)))

	// 0x00-0x03: Magic bytes
	copy(buf[0:4], MagicBytes)
	// 0x04-0x07: Version
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	// 0x08-0x0B: Flags
	binary.LittleEndian.PutUint32(buf[8:12], flags)
	// 0x0C-0x0F: Reserved
	// 0x10-0x17: Header size
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(headerJSON)))
	// 0x18-0x1F: Data size
	binary.LittleEndian.PutUint64(buf[24:32], uint64(len(data)))
	// 0x20-0x3F: SHA-256 checksum of the data section
	checksum := ComputeChecksum(data)
	copy(buf[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	copy(buf[FixedHeaderSize:], headerJSON)
	return append(buf, data...), nil
}

// Write encodes the state dictionary to w.
func Write(w io.Writer, stateDict map[string]*tensor.Tensor, header Header) error {
	b, err := Encode(stateDict, header)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(b); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return bw.Flush()
}

// WriteFile writes the state dictionary to path atomically: the file either
// appears complete or not at all.
func WriteFile(path string, stateDict map[string]*tensor.Tensor, header Header) error {
	b, err := Encode(stateDict, header)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, b)
}

// AtomicWriteFile writes data to a temporary file in the target directory
// and renames it over path.
func AtomicWriteFile(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
