// Package serialization implements the .qmdl model artifact format.
//
// A .qmdl file stores a trained network's float32 parameters together with
// the architecture config needed to rebuild it:
//
//	Fixed header (64 bytes):
//	  0x00  [4 bytes: Magic "QMDL"]
//	  0x04  [4 bytes: Version (uint32 LE)]
//	  0x08  [4 bytes: Flags (uint32 LE)]
//	  0x0C  [4 bytes: Reserved]
//	  0x10  [8 bytes: Header Size (uint64 LE)]
//	  0x18  [8 bytes: Data Size (uint64 LE)]
//	  0x20  [32 bytes: SHA-256 of the data section]
//	[Header: JSON metadata]
//	[Padding to a 64-byte boundary]
//	[Tensor data: little-endian float32, in header order]
//
// Example usage:
//
//	header := serialization.Header{ModelType: "qcnn", Config: cfgJSON}
//	if err := serialization.WriteFile("model.qmdl", model.StateDict(), header); err != nil {
//	    return err
//	}
//
//	f, err := serialization.ReadFile("model.qmdl", serialization.ReaderOptions{})
//	if err != nil {
//	    return err
//	}
//	err = model.LoadStateDict(f.Tensors)
package serialization
