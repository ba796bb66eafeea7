package Transformer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

func GbkToUtf8(s string) string {
	utf8String, _, err := transform.String(simplifiedchinese.GBK.NewDecoder(), s)
	if err != nil {
		return s
	}
	return utf8String
}

func Utf8ToGbk(s string) string {
	gbk, _, err := transform.String(simplifiedchinese.GBK.NewEncoder(), s)
	if err != nil {
		return s
	}
	return gbk
}

func isGBK(charset string) bool {
	switch strings.ToUpper(strings.TrimSpace(charset)) {
	case "GBK", "GB2312", "GB18030", "GB-18030", "936", "CP936":
		return true
	}
	return false
}

// readCPGEncoding 读取同名 .cpg 文件中的字符编码，不存在时返回空串
func readCPGEncoding(shpPath string) string {
	cpgPath := strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ".cpg"
	content, err := os.ReadFile(cpgPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

// detectCharset 没有 .cpg 时根据属性内容猜测编码
func detectCharset(sample []byte) string {
	if len(sample) == 0 {
		return "UTF-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil {
		log.Debug().Err(err).Msg("charset detection failed")
		return "UTF-8"
	}
	return result.Charset
}
