package model

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	metadataKey = "__metadata__"
	dtypeF32    = "F32"

	// maxHeaderSize bounds the JSON header so a corrupt length prefix
	// cannot trigger a huge allocation.
	maxHeaderSize = 100 << 20
)

// Weights is the trained parameter set of the classifier, keyed by the
// module names used during training (e.g. "fc1.weight").
type Weights struct {
	Tensors  map[string]*tensor.Dense
	Metadata map[string]string
}

type tensorInfo struct {
	Dtype       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// Load reads a safetensors artifact from disk.
func Load(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening model artifact")
	}
	defer f.Close()

	w, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding model artifact %s", path)
	}
	return w, nil
}

// Decode parses a safetensors stream: a little-endian uint64 header size,
// the JSON header and the raw tensor data. Only float32 tensors are supported.
func Decode(r io.Reader) (*Weights, error) {
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, errors.Wrap(err, "reading header size")
	}
	if size == 0 || size > maxHeaderSize {
		return nil, errors.Errorf("invalid header size %d", size)
	}

	header := make([]byte, size)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}

	var entries map[string]jsoniter.RawMessage
	if err := json.Unmarshal(header, &entries); err != nil {
		return nil, errors.Wrap(err, "parsing header")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading tensor data")
	}

	w := &Weights{
		Tensors:  make(map[string]*tensor.Dense, len(entries)),
		Metadata: map[string]string{},
	}

	for name, raw := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(raw, &w.Metadata); err != nil {
				return nil, errors.Wrap(err, "parsing metadata")
			}
			continue
		}

		var info tensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, errors.Wrapf(err, "parsing tensor %q", name)
		}
		t, err := decodeTensor(info, data)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", name)
		}
		w.Tensors[name] = t
	}
	return w, nil
}

func decodeTensor(info tensorInfo, data []byte) (*tensor.Dense, error) {
	if info.Dtype != dtypeF32 {
		return nil, errors.Errorf("unsupported dtype %s", info.Dtype)
	}

	shape := info.Shape
	if len(shape) == 0 {
		shape = []int{1}
	}
	// Bounded by the data section so the product cannot overflow.
	limit := len(data) / 4
	count := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, errors.Errorf("invalid shape %v", info.Shape)
		}
		if d > limit/count {
			return nil, errors.Errorf("shape %v exceeds the %d byte data section", info.Shape, len(data))
		}
		count *= d
	}

	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(data)) {
		return nil, errors.Errorf("data offsets [%d, %d] out of range", begin, end)
	}
	if end-begin != int64(count)*4 {
		return nil, errors.Errorf("shape %v needs %d bytes, got %d", shape, count*4, end-begin)
	}

	backing := make([]float32, count)
	buf := data[begin:end]
	for i := range backing {
		backing[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing)), nil
}

// Encode writes the weights as a safetensors stream. Tensors are laid out in
// lexical order of their names so the output is reproducible.
func Encode(w io.Writer, weights *Weights) error {
	names := make([]string, 0, len(weights.Tensors))
	for name := range weights.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(names)+1)
	if len(weights.Metadata) > 0 {
		header[metadataKey] = weights.Metadata
	}

	var offset int64
	for _, name := range names {
		t := weights.Tensors[name]
		if t.Dtype() != tensor.Float32 {
			return errors.Errorf("tensor %q: unsupported dtype %v", name, t.Dtype())
		}
		n := int64(t.Shape().TotalSize()) * 4
		header[name] = tensorInfo{
			Dtype:       dtypeF32,
			Shape:       append([]int(nil), t.Shape()...),
			DataOffsets: [2]int64{offset, offset + n},
		}
		offset += n
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "encoding header")
	}
	// The header is padded with spaces to keep the data section 8-byte aligned.
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	var word [4]byte
	for _, name := range names {
		for _, v := range weights.Tensors[name].Float32s() {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			if _, err := bw.Write(word[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Save writes the weights to path as a safetensors file.
func Save(path string, weights *Weights) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating model artifact")
	}
	if err := Encode(f, weights); err != nil {
		f.Close()
		return errors.Wrap(err, "encoding model artifact")
	}
	return f.Close()
}
