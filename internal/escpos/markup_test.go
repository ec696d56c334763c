package escpos

import (
	"bytes"
	"testing"
)

func frame(body ...[]byte) []byte {
	var buf []byte
	buf = append(buf, Initialize...)
	for _, b := range body {
		buf = append(buf, b...)
	}
	return append(buf, PartialCut...)
}

func TestEncodeEmpty(t *testing.T) {
	got := Encode("")
	want := []byte{0x1B, 0x40, 0x1D, 0x56, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode(\"\") = % x, want % x", got, want)
	}
}

func TestEncodePlainText(t *testing.T) {
	tests := []string{
		"hello",
		"Pedido #42\n",
		"Impressão térmica ☕",
		"<i>italic</i> [R] <font size='small'>",
		"[c] lowercase alignment is not a tag",
		"<B>upper bold is not a tag</B>",
		"<font ſize='big'>long s only folds outside ASCII",
	}
	for _, text := range tests {
		got := Encode(text)
		want := frame([]byte(text))
		if !bytes.Equal(got, want) {
			t.Errorf("Encode(%q) = % x, want % x", text, got, want)
		}
	}
}

func TestEncodeCenterBold(t *testing.T) {
	got := Encode("[C]<b>X</b>")
	want := frame(AlignCenter, BoldOn, []byte("X"), BoldOff)
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestEncodeTags(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   []byte
	}{
		{
			name:   "left align",
			markup: "[L]total",
			want:   frame(AlignLeft, []byte("total")),
		},
		{
			name:   "big font",
			markup: "<font size='big'>ORDER</font>",
			want:   frame(SizeDouble, []byte("ORDER"), SizeNormal),
		},
		{
			name:   "big font any case",
			markup: "<FONT SIZE='BIG'>A</font><Font Size='Big'>B</font>",
			want:   frame(SizeDouble, []byte("A"), SizeNormal, SizeDouble, []byte("B"), SizeNormal),
		},
		{
			name:   "all tags on one line",
			markup: "[C]<font size='big'><b>Ana</b></font>\n[L]1x Coffee",
			want: frame(
				AlignCenter, SizeDouble, BoldOn, []byte("Ana"), BoldOff, SizeNormal,
				[]byte("\n"), AlignLeft, []byte("1x Coffee"),
			),
		},
		{
			name:   "unbalanced tags still substituted",
			markup: "</b>text<b>",
			want:   frame(BoldOff, []byte("text"), BoldOn),
		},
		{
			name:   "unknown tag kept around known tag",
			markup: "<u><b>x</b></u>",
			want:   frame([]byte("<u>"), BoldOn, []byte("x"), BoldOff, []byte("</u>")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.markup)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode(%q) = % x, want % x", tt.markup, got, tt.want)
			}
		})
	}
}

func TestEncodeFraming(t *testing.T) {
	got := Encode("[C]<b>receipt</b>")
	if !bytes.HasPrefix(got, Initialize) {
		t.Errorf("Encode() does not start with initialize sequence: % x", got)
	}
	if !bytes.HasSuffix(got, PartialCut) {
		t.Errorf("Encode() does not end with partial cut sequence: % x", got)
	}
}

func TestEncodeDoesNotAliasInput(t *testing.T) {
	a := Encode("abc")
	b := Encode("abc")
	a[2] = 'z'
	if b[2] != 'a' {
		t.Error("Encode() results share backing storage")
	}
}

func TestReplaceFoldASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"<font size='big'>", "#"},
		{"x<FoNt SiZe='BiG'>y<font size='big'>", "x#y#"},
		{"<font size='big'", "<font size='big'"},
		{"<font \u017fize='big'>", "<font \u017fize='big'>"},
		{"<font size='bıg'>", "<font size='bıg'>"},
	}
	for _, tt := range tests {
		if got := replaceFoldASCII(tt.in, TagFontBig, "#"); got != tt.want {
			t.Errorf("replaceFoldASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
