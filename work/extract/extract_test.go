package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auproxy/work/types"
)

const archivePage = `<!DOCTYPE html><html><body>
<archivio v-bind:meta="{}" records="[{&quot;id&quot;:1905,&quot;title&quot;:null,&quot;title_eng&quot;:&quot;Attack on Titan&quot;,&quot;title_it&quot;:&quot;L&#39;attacco dei Giganti&quot;,&quot;type&quot;:&quot;TV&quot;,&quot;status&quot;:&quot;Terminato&quot;,&quot;date&quot;:&quot;2013&quot;,&quot;episodes_count&quot;:25,&quot;score&quot;:&quot;8.9&quot;,&quot;studio&quot;:&quot;Wit Studio&quot;,&quot;slug&quot;:&quot;attack-on-titan&quot;,&quot;plot&quot;:&quot;  Humanity lives behind walls.  &quot;,&quot;genres&quot;:[{&quot;name&quot;:&quot;Action&quot;},{&quot;name&quot;:&quot;Drama&quot;}],&quot;imageurl&quot;:&quot;https://img.example.com/aot.jpg&quot;},{&quot;id&quot;:2001,&quot;title&quot;:&quot;Fallback Title&quot;,&quot;title_eng&quot;:&quot;&quot;,&quot;type&quot;:&quot;Movie&quot;,&quot;episodes_count&quot;:1,&quot;score&quot;:7.5,&quot;genres&quot;:[]}]"></archivio>
</body></html>`

func TestArchiveRecords(t *testing.T) {
	records, err := ArchiveRecords(archivePage)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, 1905, first.ID)
	assert.Equal(t, "Attack on Titan", first.TitleEn)
	assert.Equal(t, "L'attacco dei Giganti", first.TitleIt)
	assert.Equal(t, "TV", first.Type)
	assert.Equal(t, 25, first.EpisodesCount)
	assert.Equal(t, "8.9", first.Score)
	assert.Equal(t, "Humanity lives behind walls.", first.Plot)
	assert.Equal(t, []string{"Action", "Drama"}, first.Genres)
	assert.Equal(t, "https://img.example.com/aot.jpg", first.Thumbnail)

	// title fallback when title_eng is empty, numeric score stringified
	second := records[1]
	assert.Equal(t, "Fallback Title", second.TitleEn)
	assert.Equal(t, "Fallback Title", second.TitleIt)
	assert.Equal(t, "7.5", second.Score)
}

func TestArchiveRecordsMissingTag(t *testing.T) {
	_, err := ArchiveRecords(`<html><body><h1>Cloudflare check</h1></body></html>`)
	require.Error(t, err)

	var parseErr *types.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestArchiveRecordsBadJSON(t *testing.T) {
	_, err := ArchiveRecords(`<archivio records="not-json-at-all">`)
	require.Error(t, err)

	var parseErr *types.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestVideoURLFromScript(t *testing.T) {
	page := `<html><script>
		window.video = {"id": 12345};
		window.downloadUrl = 'https://cdn.example.com/download/12345/file/SP.mp4?token=abc';
	</script></html>`

	got, ok := VideoURL(page)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/download/12345/file/SP.mp4?token=abc", got)
}

func TestVideoURLFallbackPattern(t *testing.T) {
	page := `<html><video src="https://au-d1.example.com/hls/stream.m3u8?expires=99"></video></html>`

	got, ok := VideoURL(page)
	require.True(t, ok)
	assert.Equal(t, "https://au-d1.example.com/hls/stream.m3u8?expires=99", got)
}

func TestVideoURLScriptWinsOverFallback(t *testing.T) {
	page := `<html>
		<link href="https://other.example.com/poster.mp4">
		<script>window.downloadUrl = 'https://cdn.example.com/real.mp4';</script>
	</html>`

	got, ok := VideoURL(page)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/real.mp4", got)
}

func TestVideoURLAbsent(t *testing.T) {
	_, ok := VideoURL(`<html><body>Episode removed</body></html>`)
	assert.False(t, ok)
}

func TestFlexString(t *testing.T) {
	assert.Equal(t, "8.9", FlexString(json.RawMessage(`"8.9"`)))
	assert.Equal(t, "7.5", FlexString(json.RawMessage(`7.5`)))
	assert.Equal(t, "12", FlexString(json.RawMessage(`12`)))
	assert.Equal(t, "", FlexString(json.RawMessage(`null`)))
	assert.Equal(t, "", FlexString(nil))
}
