package domain

// ItemKind identifies the type of a content item.
type ItemKind string

const (
	ItemText           ItemKind = "text"
	ItemImage          ItemKind = "image"
	ItemAudio          ItemKind = "audio"
	ItemBinary         ItemKind = "binary"
	ItemFunctionCall   ItemKind = "function_call"
	ItemFunctionResult ItemKind = "function_result"
)

// Item is one typed content part of a message.
type Item interface {
	Kind() ItemKind
}

// TextItem is a plain text part.
type TextItem struct {
	Text string
}

func (TextItem) Kind() ItemKind { return ItemText }

// ImageItem references an image either by URI or inline data.
type ImageItem struct {
	URI      string
	Data     []byte
	MIMEType string
	Detail   string // "low", "high", "auto"
}

func (ImageItem) Kind() ItemKind { return ItemImage }

// AudioItem is inline audio data.
type AudioItem struct {
	Data     []byte
	MIMEType string
}

func (AudioItem) Kind() ItemKind { return ItemAudio }

// BinaryItem is an opaque payload such as a file attachment.
type BinaryItem struct {
	URI      string
	Data     []byte
	MIMEType string
}

func (BinaryItem) Kind() ItemKind { return ItemBinary }

var (
	_ Item = TextItem{}
	_ Item = ImageItem{}
	_ Item = AudioItem{}
	_ Item = BinaryItem{}
	_ Item = FunctionCall{}
	_ Item = FunctionResult{}
)
