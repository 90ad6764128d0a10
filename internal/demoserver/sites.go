package demoserver

import "strings"

const (
	// ProfileUSWDS is a modern agency site: redirecting entry, robots.txt
	// with a sitemap index, analytics and the design system.
	ProfileUSWDS = "uswds"
	// ProfileLegacy is an older site: no robots.txt, a flat sitemap and
	// no design system or analytics.
	ProfileLegacy = "legacy"
)

// Profiles lists the site profiles the demo server can serve.
func Profiles() []string { return []string{ProfileUSWDS, ProfileLegacy} }

// USWDSVersion is the version banner carried by the uswds profile's
// stylesheet.
const USWDSVersion = "3.8.0"

// page is one scripted response. Bodies may contain {{origin}}, replaced
// with the scheme and host the request arrived on.
type page struct {
	status      int
	contentType string
	location    string
	body        string
}

type site map[string]page

func (s site) render(path, origin string) (page, bool) {
	p, ok := s[path]
	if !ok {
		return page{}, false
	}
	p.body = strings.ReplaceAll(p.body, "{{origin}}", origin)
	p.location = strings.ReplaceAll(p.location, "{{origin}}", origin)
	return p, true
}

var sites = map[string]site{
	ProfileUSWDS: {
		"/":                     {status: 301, location: "{{origin}}/home/"},
		"/home/":                {status: 200, contentType: "text/html; charset=utf-8", body: uswdsHome},
		"/robots.txt":           {status: 200, contentType: "text/plain; charset=utf-8", body: uswdsRobots},
		"/sitemap.xml":          {status: 200, contentType: "application/xml", body: uswdsSitemapIndex},
		"/sitemaps/pages.xml":   {status: 200, contentType: "application/xml", body: uswdsPagesSitemap},
		"/sitemaps/news.xml":    {status: 200, contentType: "application/xml", body: uswdsNewsSitemap},
		"/assets/css/uswds.css": {status: 200, contentType: "text/css", body: uswdsCSS},
	},
	ProfileLegacy: {
		"/":                {status: 200, contentType: "text/html; charset=iso-8859-1", body: legacyHome},
		"/sitemap.xml":     {status: 200, contentType: "text/xml", body: legacySitemap},
		"/styles/main.css": {status: 200, contentType: "text/css", body: legacyCSS},
	},
}

const notFoundHTML = `<!DOCTYPE html>
<html lang="en">
<head><title>Page not found</title></head>
<body><h1>Page not found</h1><p>The page you requested does not exist.</p></body>
</html>`

const uswdsHome = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Demo Agency</title>
  <meta property="og:type" content="article">
  <meta property="og:title" content="Demo Agency | Serving the public">
  <meta property="og:description" content="Programs and services of the Demo Agency.">
  <meta property="article:published_time" content="2024-03-01T09:00:00Z">
  <meta property="article:modified_time" content="2024-05-20T16:30:00Z">
  <link rel="stylesheet" href="/assets/css/uswds.css">
  <script async src="https://dap.digitalgov.gov/Universal-Federated-Analytics-Min.js?agency=GSA&subagency=TTS"></script>
  <script async src="https://www.googletagmanager.com/gtag/js?id=G-DEMO"></script>
</head>
<body>
  <section class="usa-banner" aria-label="Official website of the United States government">
    <div class="usa-banner__header">
      <img class="usa-banner__header-flag" src="/assets/img/us_flag_small.png" alt="">
      <p class="usa-banner__header-text">An official website of the United States government</p>
    </div>
  </section>
  <header class="usa-header usa-header--basic"><a class="usa-logo" href="/">Demo Agency</a></header>
  <main id="main-content" class="usa-layout-docs">
    <h1>Serving the public</h1>
    <table class="usa-table">
      <thead><tr><th>Program</th><th>Status</th></tr></thead>
      <tbody><tr><td>Grants</td><td>Open</td></tr></tbody>
    </table>
  </main>
  <footer class="usa-footer"><iframe src="https://www.youtube.com/embed/demo" title="Video"></iframe></footer>
</body>
</html>`

const uswdsRobots = `# Demo Agency
User-agent: *
Crawl-delay: 10
Disallow: /admin/
Disallow: /search

Sitemap: {{origin}}/sitemap.xml
`

const uswdsSitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>{{origin}}/sitemaps/pages.xml</loc><lastmod>2024-05-20</lastmod></sitemap>
  <sitemap><loc>{{origin}}/sitemaps/news.xml</loc><lastmod>2024-05-21</lastmod></sitemap>
</sitemapindex>
`

const uswdsPagesSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>{{origin}}/home/</loc><lastmod>2024-05-20</lastmod></url>
  <url><loc>{{origin}}/about/</loc><lastmod>2024-04-02</lastmod></url>
  <url><loc>{{origin}}/programs/</loc><lastmod>2024-04-15</lastmod></url>
</urlset>
`

const uswdsNewsSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>{{origin}}/news/2024/05/grants-open/</loc><lastmod>2024-05-21</lastmod></url>
  <url><loc>{{origin}}/news/2024/04/annual-report/</loc><lastmod>2024-04-30</lastmod></url>
</urlset>
`

const uswdsCSS = `/*! uswds v` + USWDSVersion + ` */
:root { --usa-font-sans: "Public Sans Web", sans-serif; }
.usa-banner { background-color: #f0f0f0; font-family: "Source Sans Pro Web", sans-serif; }
.usa-banner__header-flag { background-image: url("../img/us_flag_small.png"); }
.usa-prose { font-family: "Merriweather Web", Georgia, serif; }
`

const legacyHome = `<html>
<head>
  <title>Demo Bureau Home Page</title>
  <link rel="stylesheet" type="text/css" href="/styles/main.css">
</head>
<body bgcolor="#ffffff">
  <table width="100%"><tr><td><h1>Welcome to the Demo Bureau</h1></td></tr></table>
  <p>This page is best viewed in Internet Explorer.</p>
</body>
</html>`

const legacySitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>{{origin}}/</loc></url>
  <url><loc>{{origin}}/contact.html</loc></url>
</urlset>
`

const legacyCSS = `body { font-family: Verdana, Arial, sans-serif; }
`
