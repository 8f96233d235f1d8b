package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// ReaderOptions configures decoding.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
}

// File is a decoded .qmdl file.
type File struct {
	Header  Header
	Flags   uint32
	Tensors map[string]*tensor.Tensor
}

// Decode parses a complete .qmdl image.
func Decode(b []byte, opts ReaderOptions) (*File, error) {
	if len(b) < FixedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, fixed header needs %d", ErrTruncated, len(b), FixedHeaderSize)
	}
	if string(b[0:4]) != MagicBytes {
		return nil, fmt.Errorf("%w: got %q, expected %q", ErrInvalidMagic, b[0:4], MagicBytes)
	}
	if v := binary.LittleEndian.Uint32(b[4:8]); v != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, v, FormatVersion)
	}
	flags := binary.LittleEndian.Uint32(b[8:12])
	headerSize := binary.LittleEndian.Uint64(b[16:24])
	dataSize := binary.LittleEndian.Uint64(b[24:32])
	var stored [ChecksumSize]byte
	copy(stored[:], b[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}
	start := dataOffset(int64(headerSize))
	if uint64(len(b)) < uint64(start)+dataSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrTruncated, len(b), uint64(start)+dataSize)
	}
	data := b[start : uint64(start)+dataSize]

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
			return nil, err
		}
	}

	var header Header
	dec := json.NewDecoder(bytes.NewReader(b[FixedHeaderSize : FixedHeaderSize+headerSize]))
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	//nolint:gosec // G115: dataSize is bounded by len(b)
	if err := ValidateHeader(&header, int64(dataSize), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	tensors := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, meta := range header.Tensors {
		if meta.Offset < 0 || meta.Size < 0 || uint64(meta.Offset+meta.Size) > dataSize {
			return nil, &ValidationError{Type: "out_of_bounds", Tensor: meta.Name, Details: "region outside data section"}
		}
		raw := data[meta.Offset : meta.Offset+meta.Size]
		values := make([]float32, len(raw)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		t, err := tensor.FromSlice(values, meta.Shape...)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", meta.Name, err)
		}
		tensors[meta.Name] = t
	}

	return &File{Header: header, Flags: flags, Tensors: tensors}, nil
}

// Read decodes a .qmdl stream.
func Read(r io.Reader, opts ReaderOptions) (*File, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return Decode(b, opts)
}

// ReadFile decodes the .qmdl file at path.
func ReadFile(path string, opts ReaderOptions) (*File, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	f, err := Decode(b, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ReadHeader decodes only the JSON header, skipping tensor data and checksum.
func ReadHeader(path string) (Header, error) {
	f, err := ReadFile(path, ReaderOptions{SkipChecksumValidation: true, ValidationLevel: ValidationNone})
	if err != nil {
		return Header{}, err
	}
	return f.Header, nil
}
