package cipher

// BlockSplitter regroups arbitrary reads into fixed-length encoded blocks.
// Whitespace between blocks is dropped.
type BlockSplitter struct {
	size int
	buf  []byte
}

// NewBlockSplitter creates a splitter for blocks of size bytes.
func NewBlockSplitter(size int) *BlockSplitter {
	return &BlockSplitter{size: size}
}

// Split appends p and returns every complete block now buffered.
// Returned slices do not alias the internal buffer.
func (s *BlockSplitter) Split(p []byte) [][]byte {
	for _, b := range p {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		s.buf = append(s.buf, b)
	}

	var blocks [][]byte
	for len(s.buf) >= s.size {
		block := make([]byte, s.size)
		copy(block, s.buf[:s.size])
		blocks = append(blocks, block)
		s.buf = s.buf[s.size:]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return blocks
}

// Pending returns the number of buffered bytes not yet forming a block.
func (s *BlockSplitter) Pending() int {
	return len(s.buf)
}

// Reset drops buffered bytes.
func (s *BlockSplitter) Reset() {
	s.buf = nil
}

// blockSizer is implemented by ciphers with fixed-length units.
type blockSizer interface {
	BlockSize() int
}

// Stream turns raw reads into plaintext for one connection.
type Stream struct {
	cipher Cipher
	split  *BlockSplitter
}

// NewStream wraps c. Ciphers with a fixed block size get a BlockSplitter
// so coalesced or split reads still decrypt.
func NewStream(c Cipher) *Stream {
	s := &Stream{cipher: c}
	if bs, ok := c.(blockSizer); ok && bs.BlockSize() > 0 {
		s.split = NewBlockSplitter(bs.BlockSize())
	}
	return s
}

// Feed decrypts whatever complete units p completes.
// On a DecryptionError the plaintext recovered before the failing unit is
// returned alongside the error and buffered bytes are dropped.
func (s *Stream) Feed(p []byte) ([]byte, error) {
	if s.split == nil {
		return s.cipher.Unwrap(p)
	}

	var plain []byte
	for _, block := range s.split.Split(p) {
		pt, err := s.cipher.Unwrap(block)
		if err != nil {
			s.split.Reset()
			return plain, err
		}
		plain = append(plain, pt...)
	}
	return plain, nil
}
