// 包 locate：按访问者 IP 估计地图初始中心与行政区名称
package locate

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/lionsoul2014/ip2region/binding/golang/xdb"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"region-sync/internal/logger"
	"region-sync/internal/model"
)

var ErrBadIP = errors.New("bad ip")

// Location：定位结果；Center 为空表示没有坐标来源命中
type Location struct {
	IP       string             `json:"ip"`
	Center   *model.GeoLocation `json:"center,omitempty"`
	Country  string             `json:"country,omitempty"`
	Province string             `json:"province,omitempty"`
	City     string             `json:"city,omitempty"`
	ISP      string             `json:"isp,omitempty"`
	ASN      uint               `json:"asn,omitempty"`
	Sources  []string           `json:"sources"`
}

// source：单个数据源；命中时就地补全 loc 中的空字段
type source interface {
	name() string
	fill(ip net.IP, loc *Location) bool
	close()
}

// Locator：坐标来自 GeoLite2-City，行政区名称优先取 ip2region，运营商缺失时由 GeoLite2-ASN 补全
type Locator struct {
	sources []source
}

// Paths：各数据文件路径，空路径对应的数据源不启用
type Paths struct {
	GeoIPCity   string
	GeoIPASN    string
	IP2RegionV4 string
}

func Open(p Paths) (*Locator, error) {
	l := &Locator{}
	if p.IP2RegionV4 != "" {
		s, err := xdb.NewWithFileOnly(xdb.IPv4, p.IP2RegionV4)
		if err != nil {
			return nil, err
		}
		l.sources = append(l.sources, ip2r{s: s})
		logger.L().Info("locate_source_ready", "source", "ip2region")
	}
	if p.GeoIPCity != "" {
		r, err := geoip2.Open(p.GeoIPCity)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.sources = append(l.sources, geoCity{r: r})
		logger.L().Info("locate_source_ready", "source", "geoip2")
	}
	if p.GeoIPASN != "" {
		r, err := maxminddb.Open(p.GeoIPASN)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.sources = append(l.sources, asnDB{r: r})
		logger.L().Info("locate_source_ready", "source", "asn")
	}
	return l, nil
}

func (l *Locator) Enabled() bool { return l != nil && len(l.sources) > 0 }

func (l *Locator) Close() {
	for _, s := range l.sources {
		s.close()
	}
}

// Lookup：依次查询各数据源；全部未命中时 Sources 为空
func (l *Locator) Lookup(ipStr string) (Location, error) {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return Location{}, ErrBadIP
	}
	loc := Location{IP: ip.String(), Sources: []string{}}
	for _, s := range l.sources {
		if s.fill(ip, &loc) {
			loc.Sources = append(loc.Sources, s.name())
		}
	}
	logger.L().Debug("locate_lookup", "ip", loc.IP, "sources", loc.Sources, "center", loc.Center != nil)
	return loc, nil
}

type ip2r struct{ s *xdb.Searcher }

func (ip2r) name() string { return "ip2region" }

func (x ip2r) fill(ip net.IP, loc *Location) bool {
	if ip.To4() == nil {
		return false
	}
	region, err := x.s.SearchByStr(ip.String())
	if err != nil || region == "" {
		return false
	}
	country, province, city, isp := parseRegion(region)
	if country == "" && province == "" && city == "" {
		return false
	}
	setIfEmpty(&loc.Country, country)
	setIfEmpty(&loc.Province, province)
	setIfEmpty(&loc.City, city)
	setIfEmpty(&loc.ISP, isp)
	return true
}

func (x ip2r) close() { x.s.Close() }

// parseRegion：xdb 记录形如 国家|区域|省份|城市|ISP，"0" 表示缺失
func parseRegion(s string) (country, province, city, isp string) {
	parts := strings.Split(s, "|")
	at := func(i int) string {
		if i >= len(parts) {
			return ""
		}
		v := strings.TrimSpace(parts[i])
		if v == "0" || strings.EqualFold(v, "unknown") {
			return ""
		}
		return v
	}
	return at(0), at(2), at(3), at(4)
}

type geoCity struct{ r *geoip2.Reader }

func (geoCity) name() string { return "geoip2" }

func (g geoCity) fill(ip net.IP, loc *Location) bool {
	rec, err := g.r.City(ip)
	if err != nil || rec == nil {
		return false
	}
	hit := false
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		loc.Center = &model.GeoLocation{Latitude: rec.Location.Latitude, Longitude: rec.Location.Longitude}
		hit = true
	}
	if n := rec.Country.Names["en"]; n != "" {
		setIfEmpty(&loc.Country, n)
		hit = true
	}
	if len(rec.Subdivisions) > 0 {
		setIfEmpty(&loc.Province, rec.Subdivisions[0].Names["en"])
	}
	setIfEmpty(&loc.City, rec.City.Names["en"])
	return hit
}

func (g geoCity) close() { _ = g.r.Close() }

// asnRecord：GeoLite2-ASN 记录中用到的字段
type asnRecord struct {
	Number       uint   `maxminddb:"autonomous_system_number"`
	Organization string `maxminddb:"autonomous_system_organization"`
}

type asnDB struct{ r *maxminddb.Reader }

func (asnDB) name() string { return "asn" }

func (a asnDB) fill(ip net.IP, loc *Location) bool {
	var rec asnRecord
	if err := a.r.Lookup(ip, &rec); err != nil || rec.Number == 0 {
		return false
	}
	if loc.ISP == "" {
		loc.ISP = rec.Organization
	}
	loc.ASN = rec.Number
	return true
}

func (a asnDB) close() { _ = a.r.Close() }

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// 文档注释：获取访问者 IP
// 背景：多层代理环境下，优先显式参数，其次常见反向代理头，最后回退远端地址。
// 约束：头部存在伪造风险，结果只用于地图初始定位，不用于鉴权。
func ClientIP(r *http.Request) string {
	if q := r.URL.Query().Get("ip"); q != "" {
		return q
	}
	h := r.Header
	if x := h.Get("X-Forwarded-For"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, k := range []string{"CF-Connecting-IP", "X-Real-IP", "X-Client-IP"} {
		if x := h.Get(k); x != "" {
			return strings.TrimSpace(x)
		}
	}
	if x := h.Get("Forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\"[]")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
