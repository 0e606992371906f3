package parser

import "bytes"

// pdfMagic PDF文件头, 见 ISO 32000-1 §7.5.2
var pdfMagic = []byte("%PDF-")

// IsPDF 通过文件头判断内容是否为PDF
// 只看字节, 不信任文件扩展名和Content-Type
func IsPDF(data []byte) bool {
	if len(data) < len(pdfMagic) {
		return false
	}
	return bytes.HasPrefix(data, pdfMagic)
}
