package erc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/treeherder/yasnac/pkg/bsc"
	"github.com/treeherder/yasnac/pkg/link"
	"github.com/treeherder/yasnac/pkg/storage"
)

// robotPeer scripts the controller end of the link at the byte level
type robotPeer struct {
	t    *testing.T
	link *link.PipeLink
}

func (p *robotPeer) write(data []byte) {
	p.t.Helper()
	require.Nil(p.t, p.link.Write(data))
}

func (p *robotPeer) expect(data []byte) {
	p.t.Helper()
	received, err := p.link.ReadAvailable()
	require.Nil(p.t, err)
	require.Equal(p.t, data, received)
}

func (p *robotPeer) expectBlock(header, body string) {
	p.t.Helper()
	received, err := p.link.ReadAvailable()
	require.Nil(p.t, err)
	block, consumed, err := bsc.DecodeBlock(received)
	require.Nil(p.t, err)
	require.Equal(p.t, len(received), consumed)
	require.Equal(p.t, header, block.Header)
	require.Equal(p.t, body, string(block.Body))
}

func newRobot(t *testing.T, dir string) (*Robot, *robotPeer) {
	t.Helper()
	robotEnd, peerEnd := link.Pipe()
	t.Cleanup(func() { robotEnd.Close() })
	robot := NewRobot(robotEnd, storage.NewStore(dir, false, nil, nil), nil)
	return robot, &robotPeer{t: t, link: peerEnd}
}

func startLoop(t *testing.T, robot *Robot) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- robot.Loop(context.Background())
	}()
	t.Cleanup(func() {
		select {
		case <-done:
		default:
		}
	})
}

func TestLoopAnswersEnquiry(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())
	startLoop(t, robot)

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack1)
}

func TestLoopOutOfSequenceEOTResetsAcks(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())
	startLoop(t, robot)

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write([]byte{bsc.EOT})
	// give the loop time to consume the EOT before the next enquiry,
	// the two must not coalesce into one read
	time.Sleep(50 * time.Millisecond)
	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
}

func TestLoopIncomingFile(t *testing.T) {
	dir := t.TempDir()
	robot, peer := newRobot(t, dir)
	startLoop(t, robot)

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("02,001", []byte("JOB1\rNOP\rEND\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	// the robot confirms the transfer with a 90,000 short message
	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("90,000", "0000\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	content, err := os.ReadFile(filepath.Join(dir, "JOB1.JBI"))
	require.Nil(t, err)
	assert.Equal(t, "NOP\rEND\r", string(content))
}

func TestLoopIncomingFileMultiBlock(t *testing.T) {
	dir := t.TempDir()
	robot, peer := newRobot(t, dir)
	startLoop(t, robot)

	body := append([]byte("BIG\r"), make([]byte, 300)...)
	for i := range body[4:] {
		body[4+i] = 'A'
	}
	blocks := bsc.EncodeMessage("02,002", body, bsc.Plain)
	require.Len(t, blocks, 2)

	peer.write(blocks[0])
	peer.expect(bsc.Ack0)
	peer.write(blocks[1])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("90,000", "0000\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	content, err := os.ReadFile(filepath.Join(dir, "BIG.JBR"))
	require.Nil(t, err)
	assert.Len(t, content, 300)
}

func TestLoopFileRequest(t *testing.T) {
	dir := t.TempDir()
	require.Nil(t, os.WriteFile(filepath.Join(dir, "JOB7.JBI"), []byte("NOP\r\nEND\r\n"), 0644))
	robot, peer := newRobot(t, dir)
	startLoop(t, robot)

	peer.write(bsc.EncodeMessage("02,051", []byte("JOB7\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack0)
	peer.write([]byte{bsc.EOT})

	// the robot answers with the file under the transmission code
	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("02,001", "JOB7\r")
	peer.write(bsc.Ack1)
	peer.expectBlock("", "NOP\r\nEND\r\n")
	peer.write(bsc.Ack0)
	peer.expect([]byte{bsc.EOT})
}

func TestLoopFileRequestMissing(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())
	startLoop(t, robot)

	peer.write(bsc.EncodeMessage("02,051", []byte("NOPE\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack0)
	peer.write([]byte{bsc.EOT})

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("90,000", "4040\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})
}

func TestLoopVariableTransmission(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())
	received := make(chan []string, 1)
	robot.OnVariable = func(code Code, values []string) {
		assert.Equal(t, "03,002", code.String())
		received <- values
	}
	startLoop(t, robot)

	peer.write(bsc.EncodeMessage("03,002", []byte("7,42\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack0)
	peer.write([]byte{bsc.EOT})

	assert.Equal(t, []string{"7", "42"}, <-received)
}

func TestExecuteCommandDataResponse(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())

	type result struct {
		values []string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		values, err := robot.ExecuteCommand("RSTATS")
		done <- result{values, err}
	}()

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("01,000", "RSTATS\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("90,001", []byte("2,0\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	r := <-done
	require.Nil(t, r.err)
	assert.Equal(t, []string{"2", "0"}, r.values)
}

func TestExecuteCommandRemoteError(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())

	done := make(chan error, 1)
	go func() {
		_, err := robot.ExecuteCommand("SVON 1")
		done <- err
	}()

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("01,000", "SVON 1\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("90,000", []byte("2010\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	err := <-done
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "2010", remote.Code)
}

func TestPutFileConfirmed(t *testing.T) {
	dir := t.TempDir()
	require.Nil(t, os.WriteFile(filepath.Join(dir, "JOB1.JBI"), []byte("NOP\r\nEND\r\n"), 0644))
	robot, peer := newRobot(t, dir)

	done := make(chan error, 1)
	go func() { done <- robot.PutFile("JOB1.JBI") }()

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("02,001", "JOB1\r")
	peer.write(bsc.Ack1)
	peer.expectBlock("", "NOP\r\nEND\r\n")
	peer.write(bsc.Ack0)
	peer.expect([]byte{bsc.EOT})

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("90,000", []byte("0000\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	assert.Nil(t, <-done)
}

func TestGetFileStoresReply(t *testing.T) {
	dir := t.TempDir()
	robot, peer := newRobot(t, dir)

	type result struct {
		name string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		name, err := robot.GetFile("TOOL.DAT")
		done <- result{name, err}
	}()

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("02,062", "TOOL\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("02,012", []byte("TOOL\r1,2,3\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	r := <-done
	require.Nil(t, r.err)
	assert.Equal(t, "TOOL.DAT", r.name)
	content, err := os.ReadFile(filepath.Join(dir, "TOOL.DAT"))
	require.Nil(t, err)
	assert.Equal(t, "1,2,3\r", string(content))
}

func TestGetFileMissingRemotely(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())

	done := make(chan error, 1)
	go func() {
		_, err := robot.GetFile("NOPE.JBI")
		done <- err
	}()

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("02,051", "NOPE\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("90,000", []byte("4040\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	err := <-done
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "4040", remote.Code)
}

func TestGetVariable(t *testing.T) {
	robot, peer := newRobot(t, t.TempDir())

	type result struct {
		values []string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		values, err := robot.GetVariable(VarInteger, "7")
		done <- result{values, err}
	}()

	peer.expect([]byte{bsc.ENQ})
	peer.write(bsc.Ack0)
	peer.expectBlock("03,052", "7\r")
	peer.write(bsc.Ack1)
	peer.expect([]byte{bsc.EOT})

	peer.write([]byte{bsc.ENQ})
	peer.expect(bsc.Ack0)
	peer.write(bsc.EncodeMessage("90,001", []byte("42\r"), bsc.Plain)[0])
	peer.expect(bsc.Ack1)
	peer.write([]byte{bsc.EOT})

	r := <-done
	require.Nil(t, r.err)
	assert.Equal(t, []string{"42"}, r.values)
}

func TestParseCSVJoinsLines(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "3", "4"}, parseCSV([]byte("1,2\r3,4\r")))
	assert.Empty(t, parseCSV([]byte("\r")))
}
