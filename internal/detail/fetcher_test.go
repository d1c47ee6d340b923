package detail

import "testing"

func TestParsePlayURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"空字段", "", 0},
		{"单集", "第1集$https://cdn.example.com/1.m3u8", 1},
		{"多集", "第1集$https://cdn.example.com/1.m3u8#第2集$https://cdn.example.com/2.m3u8#第3集$https://cdn.example.com/3.m3u8", 3},
		{"多线路只取第一条", "第1集$https://a.example.com/1.m3u8#第2集$https://a.example.com/2.m3u8$$$第1集$https://b.example.com/1.m3u8", 2},
		{"只有地址没有名称", "https://cdn.example.com/1.m3u8#https://cdn.example.com/2.m3u8", 2},
		{"过滤非 http 地址", "第1集$https://cdn.example.com/1.m3u8#第2集$ftp://x/2.m3u8", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePlayURL(tt.raw)
			if len(got) != tt.want {
				t.Errorf("parsePlayURL 解析出 %d 集，期望 %d: %v", len(got), tt.want, got)
			}
		})
	}
}
