package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPDF(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"标准PDF文件头", []byte("%PDF-1.7\n%âãÏÓ"), true},
		{"旧版本PDF", []byte("%PDF-1.0"), true},
		{"纯文本内容", []byte("这是一份简历"), false},
		{"DOCX文件头", []byte{0x50, 0x4B, 0x03, 0x04}, false},
		{"文件头出现在中间", []byte("xx%PDF-1.7"), false},
		{"内容过短", []byte("%PDF"), false},
		{"空内容", []byte{}, false},
		{"nil", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsPDF(tc.data))
		})
	}
}
