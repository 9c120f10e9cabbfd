// Package qrcode 二维码生成功能单元测试
package qrcode

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== NewGenerator 测试 ====================

func TestNewGenerator_Default(t *testing.T) {
	gen := NewGenerator()
	assert.NotNil(t, gen)
	assert.Equal(t, 256, gen.size)
	assert.Equal(t, Medium, gen.recoveryLevel)
}

func TestNewGenerator_WithSize(t *testing.T) {
	sizes := []int{128, 256, 512, 1024}

	for _, size := range sizes {
		t.Run(string(rune(size)), func(t *testing.T) {
			gen := NewGenerator(WithSize(size))
			assert.Equal(t, size, gen.size)
		})
	}
}

func TestNewGenerator_WithRecoveryLevel(t *testing.T) {
	levels := []RecoveryLevel{Low, Medium, High, Highest}

	for _, level := range levels {
		t.Run(string(rune(level)), func(t *testing.T) {
			gen := NewGenerator(WithRecoveryLevel(level))
			assert.Equal(t, level, gen.recoveryLevel)
		})
	}
}

func TestNewGenerator_MultipleOptions(t *testing.T) {
	gen := NewGenerator(
		WithSize(512),
		WithRecoveryLevel(High),
	)
	assert.Equal(t, 512, gen.size)
	assert.Equal(t, High, gen.recoveryLevel)
}

// ==================== GeneratePNG 测试 ====================

func TestGenerator_GeneratePNG_Success(t *testing.T) {
	gen := NewGenerator()
	content := "https://example.com/affiliate/track/a1b2c3d4"

	data, err := gen.GeneratePNG(content)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// 验证是有效的PNG
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestGenerator_GeneratePNG_DifferentContents(t *testing.T) {
	gen := NewGenerator()

	tests := []string{
		"Short",
		"https://example.com/affiliate/track/code?utm_source=qr&utm_medium=print",
		"中文内容测试",
		"12345",
	}

	for _, content := range tests {
		t.Run(content, func(t *testing.T) {
			data, err := gen.GeneratePNG(content)
			require.NoError(t, err)
			assert.NotEmpty(t, data)

			// 验证PNG格式
			_, err = png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
		})
	}
}

// ==================== GenerateBase64 测试 ====================

func TestGenerator_GenerateBase64_Success(t *testing.T) {
	gen := NewGenerator()
	content := "Test content"

	b64, err := gen.GenerateBase64(content)
	require.NoError(t, err)
	assert.NotEmpty(t, b64)

	// 验证是有效的base64
	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// 验证解码后是有效的PNG
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

// ==================== GenerateDataURL 测试 ====================

func TestGenerator_GenerateDataURL_Success(t *testing.T) {
	gen := NewGenerator()
	content := "Test content"

	dataURL, err := gen.GenerateDataURL(content)
	require.NoError(t, err)
	assert.NotEmpty(t, dataURL)

	// 验证格式
	assert.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))

	// 提取base64部分
	b64 := strings.TrimPrefix(dataURL, "data:image/png;base64,")
	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)

	// 验证是有效的PNG
	_, err = png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
}

// ==================== RecoveryLevel 测试 ====================

func TestGenerator_DifferentRecoveryLevels(t *testing.T) {
	content := "Test content"
	levels := []RecoveryLevel{Low, Medium, High, Highest}

	for _, level := range levels {
		t.Run(string(rune(level)), func(t *testing.T) {
			gen := NewGenerator(WithRecoveryLevel(level))
			data, err := gen.GeneratePNG(content)
			require.NoError(t, err)
			assert.NotEmpty(t, data)

			// 验证PNG有效
			_, err = png.Decode(bytes.NewReader(data))
			require.NoError(t, err)
		})
	}
}

// ==================== 边界条件测试 ====================

func TestGenerator_EmptyContent(t *testing.T) {
	gen := NewGenerator()

	// 空内容应该返回错误（底层库不支持空内容）
	data, err := gen.GeneratePNG("")
	assert.Error(t, err)
	assert.Nil(t, data)
	assert.Contains(t, err.Error(), "no data to encode")
}

func TestGenerator_VeryLongContent(t *testing.T) {
	gen := NewGenerator()

	// 生成很长的内容
	longContent := strings.Repeat("Long content test. ", 100)

	data, err := gen.GeneratePNG(longContent)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestGenerator_SpecialCharacters(t *testing.T) {
	gen := NewGenerator()

	contents := []string{
		"!@#$%^&*()",
		"<html>test</html>",
		"{\"key\": \"value\"}",
		"Line1\nLine2\nLine3",
		"Tab\tSeparated\tValues",
	}

	for _, content := range contents {
		t.Run(content, func(t *testing.T) {
			data, err := gen.GeneratePNG(content)
			require.NoError(t, err)
			assert.NotEmpty(t, data)
		})
	}
}

// ==================== 一致性测试 ====================

func TestGenerator_ConsistentOutput(t *testing.T) {
	gen := NewGenerator()
	content := "Consistent test"

	// 多次生成相同内容应该产生相同的二维码
	data1, err := gen.GeneratePNG(content)
	require.NoError(t, err)

	data2, err := gen.GeneratePNG(content)
	require.NoError(t, err)

	assert.Equal(t, data1, data2, "相同内容应该生成相同的二维码")
}

func TestGenerator_DifferentContentsDifferentOutput(t *testing.T) {
	gen := NewGenerator()

	data1, err := gen.GeneratePNG("Content A")
	require.NoError(t, err)

	data2, err := gen.GeneratePNG("Content B")
	require.NoError(t, err)

	assert.NotEqual(t, data1, data2, "不同内容应该生成不同的二维码")
}

// ==================== 性能测试 ====================

func BenchmarkGeneratePNG(b *testing.B) {
	gen := NewGenerator()
	content := "https://example.com/affiliate/track/a1b2c3d4"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = gen.GeneratePNG(content)
	}
}

func BenchmarkGenerateBase64(b *testing.B) {
	gen := NewGenerator()
	content := "https://example.com/affiliate/track/a1b2c3d4"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = gen.GenerateBase64(content)
	}
}
