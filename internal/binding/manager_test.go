package binding_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ssl-deployer/internal/binding"
	"ssl-deployer/internal/certtest"
	"ssl-deployer/internal/model"
	"ssl-deployer/internal/storage"
)

// memTarget 内存中的部署目标
type memTarget struct {
	sites    []model.SiteInfo
	bindings []model.BindingInfo
	certs    map[string]bool

	adds, updates, stores int
}

func newMemTarget(sites ...model.SiteInfo) *memTarget {
	return &memTarget{sites: sites, certs: make(map[string]bool)}
}

func (m *memTarget) GetSites(_ context.Context, ignoreStopped bool) ([]model.SiteInfo, error) {
	var out []model.SiteInfo
	for _, s := range m.sites {
		if ignoreStopped && !s.IsRunning {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memTarget) GetSiteBindingList(_ context.Context, _ bool, siteID string) ([]model.BindingInfo, error) {
	var out []model.BindingInfo
	for _, b := range m.bindings {
		if siteID == "" || b.SiteID == siteID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memTarget) HasCertificate(_ context.Context, store, thumbprint string) (bool, error) {
	return m.certs[store+"/"+thumbprint], nil
}

func (m *memTarget) StoreCertificate(_ context.Context, store, pfxPath, pfxPwd string) (string, error) {
	b, err := storage.ReadPFX(pfxPath, pfxPwd)
	if err != nil {
		return "", err
	}
	m.stores++
	m.certs[store+"/"+b.Thumbprint()] = true
	return b.Thumbprint(), nil
}

func (m *memTarget) AddBinding(_ context.Context, b model.BindingInfo) error {
	m.adds++
	for i := range m.bindings {
		if m.bindings[i].Key() == b.Key() {
			m.bindings[i] = b
			return nil
		}
	}
	m.bindings = append(m.bindings, b)
	return nil
}

func (m *memTarget) UpdateBinding(_ context.Context, b model.BindingInfo) error {
	m.updates++
	for i := range m.bindings {
		if m.bindings[i].Key() == b.Key() {
			m.bindings[i] = b
			return nil
		}
	}
	return fmt.Errorf("binding %s not found", b)
}

// snapshot 以排序后的字符串比较绑定集合
func (m *memTarget) snapshot() []string {
	out := make([]string, 0, len(m.bindings))
	for _, b := range m.bindings {
		k := b.Key()
		out = append(out, fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%t", k.SiteID, k.Protocol, k.IP, k.Port, k.Host,
			b.CertificateHash, b.CertificateStore, b.IsSNIEnabled))
	}
	sort.Strings(out)
	return out
}

var site1 = model.SiteInfo{ID: "1", Name: "Default Web Site", IsRunning: true}

func https(host, ip string, port int, hash string) model.BindingInfo {
	return model.BindingInfo{SiteID: site1.ID, SiteName: site1.Name, Host: host, IP: ip, Port: port,
		Protocol: model.ProtocolHTTPS, CertificateHash: hash, CertificateStore: binding.DefaultStoreName}
}

func TestUpdateWebBinding_ExactHostWinsOverBlankHost(t *testing.T) {
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{
		https("", "*", 443, "OLD1"),
		https("", "0.0.0.0", 443, "OLD2"),
		https("a.example", "*", 443, "OLD3"),
	}
	existing, _ := target.GetSiteBindingList(context.Background(), false, site1.ID)

	m := binding.NewManager(nil)
	steps, err := m.UpdateWebBinding(context.Background(), target, site1, existing, "My", "NEW",
		"a.example", 443, true, "", false, false)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].HasChanged)

	assert.Equal(t, 1, target.updates)
	assert.Equal(t, 0, target.adds)
	assert.Equal(t, "OLD1", target.bindings[0].CertificateHash)
	assert.Equal(t, "OLD2", target.bindings[1].CertificateHash)
	assert.Equal(t, "NEW", target.bindings[2].CertificateHash)
}

func TestUpdateWebBinding_BlankHostMatch(t *testing.T) {
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("", "0.0.0.0", 443, "OLD")}
	existing, _ := target.GetSiteBindingList(context.Background(), false, site1.ID)

	steps, err := binding.NewManager(nil).UpdateWebBinding(context.Background(), target, site1, existing, "My", "NEW",
		"a.example", 443, false, "*", false, false)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, target.updates)
	assert.Len(t, target.bindings, 1)
	assert.Equal(t, "NEW", target.bindings[0].CertificateHash)
	assert.Empty(t, target.bindings[0].Host)
}

func TestUpdateWebBinding_NoMatchCreates(t *testing.T) {
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("b.example", "*", 443, "OLD")}
	existing, _ := target.GetSiteBindingList(context.Background(), false, site1.ID)

	_, err := binding.NewManager(nil).UpdateWebBinding(context.Background(), target, site1, existing, "My", "NEW",
		"a.example", 443, true, "", false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, target.adds)
	require.Len(t, target.bindings, 2)
	assert.Equal(t, "OLD", target.bindings[0].CertificateHash, "other hosts are left untouched")
	added := target.bindings[1]
	assert.Equal(t, "a.example", added.Host)
	assert.Equal(t, "*", added.IP)
	assert.True(t, added.IsSNIEnabled)
	assert.Equal(t, site1.ID, added.SiteID)
}

func TestUpdateWebBinding_Conflict(t *testing.T) {
	existing := []model.BindingInfo{
		https("", "*", 443, "OLD1"),
		https("", "0.0.0.0", 443, "OLD2"),
	}
	target := newMemTarget(site1)
	target.bindings = existing

	_, err := binding.NewManager(nil).UpdateWebBinding(context.Background(), target, site1, existing, "My", "NEW",
		"a.example", 443, true, "", false, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrBindingConflict))
	assert.Zero(t, target.adds+target.updates)
}

func TestUpdateWebBinding_Idempotent(t *testing.T) {
	target := newMemTarget(site1)
	m := binding.NewManager(nil)
	ctx := context.Background()

	run := func() []model.ActionStep {
		existing, err := target.GetSiteBindingList(ctx, false, site1.ID)
		require.NoError(t, err)
		steps, err := m.UpdateWebBinding(ctx, target, site1, existing, "My", "HASH", "a.example", 443, true, "", false, false)
		require.NoError(t, err)
		return steps
	}

	first := run()
	after := target.snapshot()
	second := run()

	assert.True(t, model.HasChanges(first))
	assert.False(t, model.HasChanges(second))
	assert.Equal(t, after, target.snapshot())
	assert.Equal(t, 1, target.adds)
}

func TestUpdateWebBinding_AlwaysRecreate(t *testing.T) {
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("a.example", "*", 443, "HASH")}
	existing, _ := target.GetSiteBindingList(context.Background(), false, site1.ID)

	steps, err := binding.NewManager(nil).UpdateWebBinding(context.Background(), target, site1, existing, "My", "HASH",
		"a.example", 443, true, "", true, false)
	require.NoError(t, err)
	assert.True(t, model.HasChanges(steps))
	assert.Equal(t, 1, target.adds)
	assert.Len(t, target.bindings, 1)
}

func TestUpdateFtpBinding(t *testing.T) {
	ftp := model.BindingInfo{SiteID: site1.ID, IP: "*", Port: 21, Protocol: model.ProtocolFTP, CertificateHash: "OLD"}
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{ftp, https("", "*", 21, "WEB")}
	m := binding.NewManager(nil)

	existing, _ := target.GetSiteBindingList(context.Background(), false, site1.ID)
	steps, err := m.UpdateFtpBinding(context.Background(), target, site1, existing, "My", "NEW", "", 21, "", false)
	require.NoError(t, err)
	assert.True(t, model.HasChanges(steps))
	assert.Equal(t, "NEW", target.bindings[0].CertificateHash)
	assert.Equal(t, "WEB", target.bindings[1].CertificateHash, "https bindings are not touched by ftp reconciliation")

	existing, _ = target.GetSiteBindingList(context.Background(), false, site1.ID)
	steps, err = m.UpdateFtpBinding(context.Background(), target, site1, existing, "My", "NEW", "", 21, "", false)
	require.NoError(t, err)
	assert.False(t, model.HasChanges(steps))
}

func writePFX(t *testing.T, domains ...string) (string, string) {
	t.Helper()
	bundle := certtest.NewBundle(t, domains...)
	return certtest.WritePFX(t, t.TempDir(), bundle, "secret"), bundle.Thumbprint()
}

func managed(cfg model.CertRequestConfig) *model.ManagedCertificate {
	return &model.ManagedCertificate{ID: "mc", Domains: cfg.AllDomains(), RequestConfig: cfg}
}

func TestStoreAndDeploy_SingleSite(t *testing.T) {
	pfx, thumb := writePFX(t, "example.com", "*.example.com")
	target := newMemTarget(site1, model.SiteInfo{ID: "2", Name: "Other", IsRunning: true})
	target.bindings = []model.BindingInfo{
		https("www.example.com", "*", 443, "OLD"),
		https("other.org", "*", 443, "KEEP"),
		https("", "*", 443, "BLANK"),
	}

	mc := managed(model.CertRequestConfig{
		PrimaryDomain:           "example.com",
		SubjectAlternativeNames: []string{"*.example.com"},
		DeploymentSiteOption:    model.DeploymentSiteSingle,
		DeploymentSiteID:        site1.ID,
		BindingUseSNI:           true,
	})

	steps, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", false)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, binding.CategoryCertificateStorage, steps[0].Category)
	assert.Equal(t, 1, target.stores)

	byHost := map[string]model.BindingInfo{}
	for _, b := range target.bindings {
		byHost[b.Host] = b
	}
	assert.Equal(t, thumb, byHost["www.example.com"].CertificateHash)
	assert.Equal(t, "KEEP", byHost["other.org"].CertificateHash)
	assert.Equal(t, "BLANK", byHost[""].CertificateHash)
	require.Contains(t, byHost, "example.com")
	assert.Equal(t, 443, byHost["example.com"].Port)
	assert.True(t, byHost["example.com"].IsSNIEnabled)
	assert.Len(t, target.bindings, 4, "wildcard domains are not added as bindings")

	again, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", false)
	require.NoError(t, err)
	assert.False(t, model.HasChanges(again))
	assert.Equal(t, 1, target.stores)
}

func TestStoreAndDeploy_BlankHostIgnoredByDefault(t *testing.T) {
	pfx, thumb := writePFX(t, "a.example")
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("", "*", 443, "BLANK")}

	mc := managed(model.CertRequestConfig{
		PrimaryDomain:        "a.example",
		DeploymentSiteOption: model.DeploymentSiteSingle,
		DeploymentSiteID:     site1.ID,
		BindingUseSNI:        true,
	})

	steps, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", false)
	require.NoError(t, err)
	assert.True(t, model.HasChanges(steps))
	assert.Equal(t, 1, target.adds)
	assert.Zero(t, target.updates)

	require.Len(t, target.bindings, 2)
	assert.Equal(t, "BLANK", target.bindings[0].CertificateHash)
	added := target.bindings[1]
	assert.Equal(t, "a.example", added.Host)
	assert.Equal(t, thumb, added.CertificateHash)
	assert.True(t, added.IsSNIEnabled)
}

func TestStoreAndDeploy_SharedBlankBindingUpdatedOnce(t *testing.T) {
	pfx, thumb := writePFX(t, "a.example", "b.example")
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("", "*", 443, "BLANK")}

	mc := managed(model.CertRequestConfig{
		PrimaryDomain:                  "a.example",
		SubjectAlternativeNames:        []string{"b.example"},
		DeploymentSiteOption:           model.DeploymentSiteSingle,
		DeploymentSiteID:               site1.ID,
		DeploymentBindingBlankHostname: true,
	})

	steps, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", false)
	require.NoError(t, err)
	assert.Equal(t, 1, target.updates)
	assert.Zero(t, target.adds)
	require.Len(t, target.bindings, 1)
	assert.Equal(t, thumb, target.bindings[0].CertificateHash)

	changed := 0
	for _, s := range steps {
		if s.Category == binding.CategoryBinding && s.HasChanged {
			changed++
		}
	}
	assert.Equal(t, 1, changed)
}

func TestStoreAndDeploy_UpdateOnlyAndBlankHost(t *testing.T) {
	pfx, thumb := writePFX(t, "a.example")
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("", "*", 443, "BLANK")}

	mc := managed(model.CertRequestConfig{
		PrimaryDomain:                  "a.example",
		DeploymentSiteOption:           model.DeploymentSiteSingle,
		DeploymentSiteID:               site1.ID,
		DeploymentBindingOption:        model.DeploymentBindingUpdateOnly,
		DeploymentBindingBlankHostname: true,
	})

	_, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", false)
	require.NoError(t, err)
	assert.Zero(t, target.adds)
	require.Len(t, target.bindings, 1)
	assert.Equal(t, thumb, target.bindings[0].CertificateHash)
}

func TestStoreAndDeploy_AllSitesWithFTP(t *testing.T) {
	pfx, thumb := writePFX(t, "a.example")
	site2 := model.SiteInfo{ID: "2", Name: "FTP", IsRunning: true}
	stopped := model.SiteInfo{ID: "3", Name: "Stopped"}
	target := newMemTarget(site1, site2, stopped)
	target.bindings = []model.BindingInfo{
		https("a.example", "*", 443, "OLD"),
		{SiteID: "2", IP: "*", Port: 21, Protocol: model.ProtocolFTP},
		{SiteID: "3", Host: "a.example", IP: "*", Port: 443, Protocol: model.ProtocolHTTPS, CertificateHash: "STOPPED"},
	}

	mc := managed(model.CertRequestConfig{
		PrimaryDomain:        "a.example",
		DeploymentSiteOption: model.DeploymentSiteAll,
		DeployToFTP:          true,
	})

	_, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", false)
	require.NoError(t, err)
	assert.Equal(t, thumb, target.bindings[0].CertificateHash)
	assert.Equal(t, thumb, target.bindings[1].CertificateHash)
	assert.Equal(t, "STOPPED", target.bindings[2].CertificateHash)
	assert.Zero(t, target.adds, "all-sites deployment only updates existing bindings")
}

func TestStoreAndDeploy_Preview(t *testing.T) {
	pfx, _ := writePFX(t, "a.example")
	target := newMemTarget(site1)
	target.bindings = []model.BindingInfo{https("a.example", "*", 443, "OLD")}
	before := target.snapshot()

	mc := managed(model.CertRequestConfig{
		PrimaryDomain:           "a.example",
		SubjectAlternativeNames: []string{"b.example"},
		DeploymentSiteOption:    model.DeploymentSiteSingle,
		DeploymentSiteID:        site1.ID,
	})

	steps, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, mc, pfx, "secret", true)
	require.NoError(t, err)
	assert.True(t, model.HasChanges(steps))
	assert.GreaterOrEqual(t, len(steps), 3)
	assert.Equal(t, before, target.snapshot())
	assert.Zero(t, target.stores+target.adds+target.updates)
}

func TestStoreAndDeploy_NoSiteOption(t *testing.T) {
	pfx, _ := writePFX(t, "a.example")
	target := newMemTarget(site1)

	steps, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target,
		managed(model.CertRequestConfig{PrimaryDomain: "a.example"}), pfx, "secret", false)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, binding.CategoryDeployment, steps[1].Category)
	assert.Equal(t, 1, target.stores)
}

func TestStoreAndDeploy_UnknownSite(t *testing.T) {
	pfx, _ := writePFX(t, "a.example")
	target := newMemTarget(site1)

	_, err := binding.NewManager(nil).StoreAndDeploy(context.Background(), target, managed(model.CertRequestConfig{
		PrimaryDomain:        "a.example",
		DeploymentSiteOption: model.DeploymentSiteSingle,
		DeploymentSiteID:     "99",
	}), pfx, "secret", false)
	assert.True(t, errors.Is(err, model.ErrConfigurationMissing))
}

func TestUpdateWebBinding_Properties(t *testing.T) {
	hosts := []string{"", "a.example", "b.example", "www.a.example"}
	ips := []string{"*", "0.0.0.0", "10.0.0.1"}
	ports := []int{443, 8443}

	rapid.Check(t, func(rt *rapid.T) {
		target := newMemTarget(site1)
		n := rapid.IntRange(0, 6).Draw(rt, "n")
		for i := 0; i < n; i++ {
			b := https(
				rapid.SampledFrom(hosts).Draw(rt, "host"),
				rapid.SampledFrom(ips).Draw(rt, "ip"),
				rapid.SampledFrom(ports).Draw(rt, "port"),
				rapid.SampledFrom([]string{"OLD", "HASH"}).Draw(rt, "hash"),
			)
			// 目标上的绑定标识唯一
			_ = target.AddBinding(context.Background(), b)
		}
		target.adds = 0
		original := target.snapshot()

		host := rapid.SampledFrom(hosts).Draw(rt, "reqHost")
		ip := rapid.SampledFrom(ips).Draw(rt, "reqIP")
		port := rapid.SampledFrom(ports).Draw(rt, "reqPort")
		sni := rapid.Bool().Draw(rt, "sni")

		m := binding.NewManager(nil)
		ctx := context.Background()
		call := func(preview bool) []model.ActionStep {
			existing, err := target.GetSiteBindingList(ctx, false, site1.ID)
			require.NoError(rt, err)
			steps, err := m.UpdateWebBinding(ctx, target, site1, existing, "My", "HASH", host, port, sni, ip, false, preview)
			require.NoError(rt, err)
			require.NotEmpty(rt, steps)
			return steps
		}

		// 预览不修改目标
		call(true)
		require.Equal(rt, original, target.snapshot())

		call(false)
		afterFirst := target.snapshot()
		require.GreaterOrEqual(rt, len(afterFirst), len(original), "bindings are never deleted")

		second := call(false)
		require.False(rt, model.HasChanges(second))
		require.Equal(rt, afterFirst, target.snapshot())
	})
}
