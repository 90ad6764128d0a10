package model

import (
	"encoding/json"
	"sort"
)

// CoreResult is the liveness and redirect record, one per scan.
type CoreResult struct {
	WebsiteID int64      `json:"websiteId"`
	Status    ScanStatus `json:"status"`

	TargetURLBaseDomain string      `json:"targetUrlBaseDomain"`
	TargetURLRedirects  bool        `json:"targetUrlRedirects"`
	TargetURL404Test    Field[bool] `json:"targetUrl404Test,omitzero"`

	FinalURL            string `json:"finalUrl"`
	FinalURLBaseDomain  string `json:"finalUrlBaseDomain"`
	FinalURLStatusCode  int    `json:"finalUrlStatusCode"`
	FinalURLMIMEType    string `json:"finalUrlMIMEType"`
	FinalURLIsLive      bool   `json:"finalUrlIsLive"`
	FinalURLSameDomain  bool   `json:"finalUrlSameDomain"`
	FinalURLSameWebsite bool   `json:"finalUrlSameWebsite"`
}

// SolutionsResult is the extended record, keyed 1:1 with CoreResult. Each
// embedded group is written by exactly one analyzer.
type SolutionsResult struct {
	WebsiteID int64  `json:"websiteId"`
	ScanID    string `json:"scanId"`

	RobotsFields
	SitemapFields
	ContentFields
	USWDSFields
}

// RobotsFields are owned by the robots.txt analyzer.
type RobotsFields struct {
	RobotsTxtDetected           Field[bool]    `json:"robotsTxtDetected,omitzero"`
	RobotsTxtStatusCode         Field[int]     `json:"robotsTxtStatusCode,omitzero"`
	RobotsTxtFinalURL           Field[string]  `json:"robotsTxtFinalUrl,omitzero"`
	RobotsTxtFinalURLLive       Field[bool]    `json:"robotsTxtFinalUrlLive,omitzero"`
	RobotsTxtFinalURLMimeType   Field[string]  `json:"robotsTxtFinalUrlMimeType,omitzero"`
	RobotsTxtFinalURLSize       Field[int64]   `json:"robotsTxtFinalUrlSize,omitzero"`
	RobotsTxtTargetURLRedirects Field[bool]    `json:"robotsTxtTargetUrlRedirects,omitzero"`
	RobotsTxtCrawlDelay         Field[float64] `json:"robotsTxtCrawlDelay,omitzero"`
	RobotsTxtSitemapLocations   Field[string]  `json:"robotsTxtSitemapLocations,omitzero"`
}

// SitemapFields are owned by the sitemap analyzer.
type SitemapFields struct {
	SitemapXMLDetected         Field[bool]   `json:"sitemapXmlDetected,omitzero"`
	SitemapTargetURLRedirects  Field[bool]   `json:"sitemapTargetUrlRedirects,omitzero"`
	SitemapXMLFinalURL         Field[string] `json:"sitemapXmlFinalUrl,omitzero"`
	SitemapXMLFinalURLLive     Field[bool]   `json:"sitemapXmlFinalUrlLive,omitzero"`
	SitemapXMLStatusCode       Field[int]    `json:"sitemapXmlStatusCode,omitzero"`
	SitemapXMLFinalURLMimeType Field[string] `json:"sitemapXmlFinalUrlMimeType,omitzero"`
	SitemapXMLFinalURLFilesize Field[int64]  `json:"sitemapXmlFinalUrlFilesize,omitzero"`
	SitemapXMLCount            Field[int]    `json:"sitemapXmlCount,omitzero"`
	SitemapXMLPdfCount         Field[int]    `json:"sitemapXmlPdfCount,omitzero"`
}

// ContentFields are owned by the rendered-content analyzer.
type ContentFields struct {
	MainElementFinalURL        Field[bool]   `json:"mainElementFinalUrl,omitzero"`
	OgTitleFinalURL            Field[string] `json:"ogTitleFinalUrl,omitzero"`
	OgDescriptionFinalURL      Field[string] `json:"ogDescriptionFinalUrl,omitzero"`
	OgArticlePublishedFinalURL Field[string] `json:"ogArticlePublishedFinalUrl,omitzero"`
	OgArticleModifiedFinalURL  Field[string] `json:"ogArticleModifiedFinalUrl,omitzero"`
	DapDetected                Field[bool]   `json:"dapDetected,omitzero"`
	DapParameters              Field[string] `json:"dapParameters,omitzero"`
	ThirdPartyServiceDomains   Field[string] `json:"thirdPartyServiceDomains,omitzero"`
	ThirdPartyServiceCount     Field[int]    `json:"thirdPartyServiceCount,omitzero"`
}

// USWDSFields are owned by the USWDS fingerprint analyzer.
type USWDSFields struct {
	USAClasses            Field[int]    `json:"usaClasses,omitzero"`
	USWDSString           Field[int]    `json:"uswdsString,omitzero"`
	USWDSStringInCSS      Field[int]    `json:"uswdsStringInCss,omitzero"`
	USWDSTables           Field[int]    `json:"uswdsTables,omitzero"`
	USWDSUsFlag           Field[int]    `json:"uswdsUsFlag,omitzero"`
	USWDSUsFlagInCSS      Field[int]    `json:"uswdsUsFlagInCss,omitzero"`
	USWDSPublicSansFont   Field[int]    `json:"uswdsPublicSansFont,omitzero"`
	USWDSSourceSansFont   Field[int]    `json:"uswdsSourceSansFont,omitzero"`
	USWDSMerriweatherFont Field[int]    `json:"uswdsMerriweatherFont,omitzero"`
	USWDSInlineCSS        Field[int]    `json:"uswdsInlineCss,omitzero"`
	USWDSCount            Field[int]    `json:"uswdsCount,omitzero"`
	USWDSVersion          Field[int]    `json:"uswdsVersion,omitzero"`
	USWDSSemanticVersion  Field[string] `json:"uswdsSemanticVersion,omitzero"`
}

// Group names used in logs, metrics and ScanResult.Degraded.
const (
	GroupRobots  = "robots"
	GroupSitemap = "sitemap"
	GroupContent = "content"
	GroupUSWDS   = "uswds"
)

// EvaluatedKeys returns the sorted JSON keys of every solutions field that
// holds something other than NotEvaluated. Identity keys are excluded.
func (s SolutionsResult) EvaluatedKeys() []string {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		if k == "websiteId" || k == "scanId" {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
