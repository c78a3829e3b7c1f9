package crawlers

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/iliasdl/internal/models"
)

const (
	// itemTitleSelector 容器列表中每个对象的标题链接
	itemTitleSelector = "a.il_ContainerItemTitle"

	// itemPropertySelector 对象的属性(类型、大小、日期等)
	itemPropertySelector = ".il_ItemProperty"

	// itemContainerSelector 包含标题与属性的列表项
	itemContainerSelector = ".il_ContainerListItem"

	// loginFormSelector 登录页特征
	loginFormSelector = `form[name="formlogin"], input[type="password"]`
)

var (
	// 1.2 MB / 850,5 KB / 12 Bytes
	sizePattern = regexp.MustCompile(`(?i)([\d][\d.,]*)\s*(bytes|byte|b|kb|mb|gb|tb)\b`)

	// 类型提示: 属性中单独出现的小写短扩展名,如 "pdf"
	typeHintPattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,4}$`)

	sizeUnits = map[string]float64{
		"b":     1,
		"byte":  1,
		"bytes": 1,
		"kb":    1024,
		"mb":    1024 * 1024,
		"gb":    1024 * 1024 * 1024,
		"tb":    1024 * 1024 * 1024 * 1024,
	}
)

// ParseListing 解析文件夹列表页,按页面顺序返回子节点
// 无法识别类型或无法提取ref id的链接被忽略
func ParseListing(doc *goquery.Selection, base *url.URL, parentRefID string) []models.ContentNode {
	nodes := make([]models.ContentNode, 0)

	doc.Find(itemTitleSelector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		link := resolveLink(base, href)
		kind, ok := classifyLink(link)
		if !ok {
			return
		}

		refID := models.ExtractRefID(link)
		if refID == "" {
			return
		}

		node := models.ContentNode{
			RefID:       refID,
			Kind:        kind,
			Name:        strings.TrimSpace(a.Text()),
			ParentRefID: parentRefID,
			SizeBytes:   models.UnknownSize,
		}

		if kind == models.KindFolder {
			node.ListingURL = link
		} else {
			node.DownloadURL = link
			node.SizeBytes, node.FileType = parseProperties(itemProperties(a))
		}

		nodes = append(nodes, node)
	})

	return nodes
}

// IsLoginPage 判断页面是否为登录页(会话失效时门户会重定向到登录页)
func IsLoginPage(doc *goquery.Selection, pageURL *url.URL) bool {
	if IsLoginURL(pageURL) {
		return true
	}
	return doc.Find(loginFormSelector).Length() > 0
}

// IsLoginURL 判断URL是否指向登录页
func IsLoginURL(u *url.URL) bool {
	return u != nil && strings.Contains(strings.ToLower(u.Path), "login.php")
}

// classifyLink 根据链接格式判断节点类型
func classifyLink(link string) (models.NodeKind, bool) {
	lower := strings.ToLower(link)

	switch {
	case strings.Contains(lower, "target=file_"),
		strings.Contains(lower, "cmd=sendfile"),
		strings.Contains(lower, "goto.php/file/"),
		strings.Contains(lower, "_file_") && strings.HasSuffix(lower, ".html"):
		return models.KindFile, true

	case strings.Contains(lower, "baseclass=ilrepositorygui") && strings.Contains(lower, "ref_id="),
		strings.Contains(lower, "target=fold_"),
		strings.Contains(lower, "target=crs_"),
		strings.Contains(lower, "target=grp_"),
		strings.Contains(lower, "goto.php/fold/"),
		strings.Contains(lower, "_fold_") && strings.HasSuffix(lower, ".html"):
		return models.KindFolder, true
	}

	return "", false
}

// itemProperties 收集标题所在列表项的属性文本
func itemProperties(title *goquery.Selection) []string {
	container := title.Closest(itemContainerSelector)
	if container.Length() == 0 {
		// 旧版主题没有列表项容器,退回到向上两层
		container = title.Parent().Parent()
	}

	props := make([]string, 0, 4)
	container.Find(itemPropertySelector).Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(strings.ReplaceAll(p.Text(), "\u00a0", " "))
		if text != "" {
			props = append(props, text)
		}
	})
	return props
}

// parseProperties 从属性文本中提取大小与类型提示
func parseProperties(props []string) (int64, string) {
	size := models.UnknownSize
	fileType := ""

	for _, p := range props {
		if size == models.UnknownSize {
			if n, ok := ParseSize(p); ok {
				size = n
				continue
			}
		}
		if fileType == "" && typeHintPattern.MatchString(p) {
			fileType = strings.ToLower(p)
		}
	}

	return size, fileType
}

// ParseSize 解析门户显示的文件大小,支持小数点与小数逗号
func ParseSize(text string) (int64, bool) {
	m := sizePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}

	number := m[1]
	switch {
	case strings.Contains(number, ",") && strings.Contains(number, "."):
		// 1.234,5 (德语千分位)
		number = strings.ReplaceAll(number, ".", "")
		number = strings.ReplaceAll(number, ",", ".")
	case strings.Contains(number, ","):
		number = strings.ReplaceAll(number, ",", ".")
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, false
	}

	unit := sizeUnits[strings.ToLower(m[2])]
	return int64(math.Round(value * unit)), true
}

// resolveLink 把相对链接解析为绝对URL
func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
