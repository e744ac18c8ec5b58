package cart

import (
	"errors"
	"strconv"
	"strings"
)

const (
	itemSep   = ','
	tierSep   = ':'
	escapeChr = '\\'

	// MetadataKey holds the cart token, or its first chunk.
	MetadataKey = "cart"

	// MaxMetadataValue is the processor's ceiling on one metadata value.
	MaxMetadataValue = 500
)

// ErrMalformedToken is returned when a cart token cannot be decoded.
var ErrMalformedToken = errors.New("cart: malformed token")

// Encode renders items as "product:tier,product,...". Backslash escapes the
// separators and itself inside product ids and tiers.
func Encode(items []Item) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte(itemSep)
		}
		writeEscaped(&b, it.ProductID)
		if it.Tier != "" {
			b.WriteByte(tierSep)
			writeEscaped(&b, it.Tier)
		}
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	for _, r := range s {
		if r == itemSep || r == tierSep || r == escapeChr {
			b.WriteRune(escapeChr)
		}
		b.WriteRune(r)
	}
}

// Decode is the inverse of Encode. An empty token decodes to no items.
func Decode(token string) ([]Item, error) {
	if token == "" {
		return nil, nil
	}

	var (
		items   []Item
		cur     strings.Builder
		product string
		inTier  bool
		escaped bool
	)
	flush := func() error {
		if inTier {
			items = append(items, Item{ProductID: product, Tier: cur.String()})
		} else {
			items = append(items, Item{ProductID: cur.String()})
		}
		if items[len(items)-1].ProductID == "" {
			return ErrMalformedToken
		}
		cur.Reset()
		inTier = false
		return nil
	}

	for _, r := range token {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == escapeChr:
			escaped = true
		case r == tierSep:
			if inTier {
				return nil, ErrMalformedToken
			}
			product = cur.String()
			cur.Reset()
			inTier = true
		case r == itemSep:
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, ErrMalformedToken
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeMetadata stores the cart token under "cart", spilling into "cart_1",
// "cart_2", ... when it exceeds the metadata value ceiling.
func EncodeMetadata(items []Item) map[string]string {
	runes := []rune(Encode(items))
	md := make(map[string]string)
	for i := 0; len(runes) > 0 || i == 0; i++ {
		n := min(len(runes), MaxMetadataValue)
		md[chunkKey(i)] = string(runes[:n])
		runes = runes[n:]
	}
	return md
}

// DecodeMetadata reassembles and decodes a cart token. ok is false when the
// metadata carries no cart.
func DecodeMetadata(md map[string]string) (items []Item, ok bool, err error) {
	first, ok := md[MetadataKey]
	if !ok || first == "" {
		return nil, false, nil
	}
	var b strings.Builder
	b.WriteString(first)
	for i := 1; ; i++ {
		chunk, ok := md[chunkKey(i)]
		if !ok {
			break
		}
		b.WriteString(chunk)
	}
	items, err = Decode(b.String())
	return items, true, err
}

func chunkKey(i int) string {
	if i == 0 {
		return MetadataKey
	}
	return MetadataKey + "_" + strconv.Itoa(i)
}
