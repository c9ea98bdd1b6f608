package embedder

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxSeqLen caps the token sequence length per text, including [CLS]/[SEP].
// Equipment descriptions are short; 128 is generous.
const maxSeqLen = 128

// encodedBatch holds tokenized texts packed for ONNX inference.
// All slices are flat [batchSize * seqLen].
type encodedBatch struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	batchSize     int64
	seqLen        int64
}

// wordpieceTokenizer performs BERT-style WordPiece tokenization against a
// vocab.txt vocabulary (token ID = 0-indexed line number).
type wordpieceTokenizer struct {
	tokenToID map[string]int64

	padID int64
	unkID int64
	clsID int64
	sepID int64
}

func newWordpieceTokenizer(vocabPath string) (*wordpieceTokenizer, error) {
	f, err := os.Open(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	tokenToID := make(map[string]int64, 32000)
	scanner := bufio.NewScanner(f)
	var n int64
	for scanner.Scan() {
		tokenToID[scanner.Text()] = n
		n++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("vocab: file is empty: %s", vocabPath)
	}

	t := &wordpieceTokenizer{tokenToID: tokenToID}
	for _, s := range []struct {
		name string
		dest *int64
	}{
		{"[PAD]", &t.padID},
		{"[UNK]", &t.unkID},
		{"[CLS]", &t.clsID},
		{"[SEP]", &t.sepID},
	} {
		id, ok := tokenToID[s.name]
		if !ok {
			return nil, fmt.Errorf("vocab: missing special token %s", s.name)
		}
		*s.dest = id
	}
	return t, nil
}

// encode converts one text into an unpadded ID sequence [CLS] ... [SEP],
// truncated to maxSeqLen.
func (t *wordpieceTokenizer) encode(text string) []int64 {
	tokens := t.wordpiece(basicTokenize(text))
	if len(tokens) > maxSeqLen-2 {
		tokens = tokens[:maxSeqLen-2]
	}

	ids := make([]int64, 0, len(tokens)+2)
	ids = append(ids, t.clsID)
	for _, tok := range tokens {
		if id, ok := t.tokenToID[tok]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.unkID)
		}
	}
	return append(ids, t.sepID)
}

// encodeBatch tokenizes each text and packs the sequences into flat slices
// padded to the longest sequence in the batch.
func (t *wordpieceTokenizer) encodeBatch(texts []string) encodedBatch {
	n := len(texts)
	if n == 0 {
		return encodedBatch{}
	}

	seqs := make([][]int64, n)
	maxLen := 0
	for i, text := range texts {
		seqs[i] = t.encode(text)
		if len(seqs[i]) > maxLen {
			maxLen = len(seqs[i])
		}
	}

	batchSize := int64(n)
	seqLen := int64(maxLen)
	total := batchSize * seqLen

	b := encodedBatch{
		inputIDs:      make([]int64, total),
		attentionMask: make([]int64, total),
		tokenTypeIDs:  make([]int64, total), // all zeros: single-segment input
		batchSize:     batchSize,
		seqLen:        seqLen,
	}
	for i, seq := range seqs {
		off := int64(i) * seqLen
		copy(b.inputIDs[off:], seq)
		for j := range seq {
			b.attentionMask[off+int64(j)] = 1
		}
		// Padding positions keep padID=0 / mask=0.
	}
	return b
}

// wordpiece decomposes basic tokens into subwords by longest-prefix match.
func (t *wordpieceTokenizer) wordpiece(tokens []string) []string {
	var out []string
	for _, token := range tokens {
		runes := []rune(token)
		if len(runes) == 0 {
			continue
		}
		if len(runes) > 200 {
			out = append(out, "[UNK]")
			continue
		}

		var subs []string
		start := 0
		ok := true
		for start < len(runes) {
			end := len(runes)
			matched := ""
			for end > start {
				sub := string(runes[start:end])
				if start > 0 {
					sub = "##" + sub
				}
				if _, found := t.tokenToID[sub]; found {
					matched = sub
					break
				}
				end--
			}
			if matched == "" {
				ok = false
				break
			}
			subs = append(subs, matched)
			start = end
		}
		if !ok {
			out = append(out, "[UNK]")
		} else {
			out = append(out, subs...)
		}
	}
	return out
}

// basicTokenize applies BERT's BasicTokenizer: clean, lowercase, strip
// accents (German umlauts fold to their base vowels, matching the
// multilingual model's preprocessing), split on whitespace and punctuation.
func basicTokenize(text string) []string {
	text = cleanText(text)
	text = strings.ToLower(text)
	text = stripAccents(text)

	var tokens []string
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, splitPunct(word)...)
	}
	return tokens
}

func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || r == 0xFFFD || isControl(r) {
			continue
		}
		if isWhitespace(r) {
			b.WriteRune(' ')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stripAccents removes combining marks after NFD normalization.
func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitPunct(word string) []string {
	var tokens []string
	var cur strings.Builder
	for _, r := range word {
		if isPunct(r) {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
			tokens = append(tokens, string(r))
			continue
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// Character classes below match BERT's reference implementation.

func isWhitespace(r rune) bool {
	if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r)
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
